package alert

import (
	"context"
	"fmt"

	goslack "github.com/slack-go/slack"
)

// severityIndicator picks a neutral marker per severity band. Informational
// only, not a judgment.
var severityIndicator = map[string]string{
	"low":    ":small_blue_diamond:",
	"medium": ":large_orange_diamond:",
	"high":   ":red_circle:",
}

// SlackSink posts drift alerts to one Slack channel via the Web API.
type SlackSink struct {
	api     *goslack.Client
	channel string
}

// NewSlackSink creates a Slack sink from a bot token and channel id.
func NewSlackSink(token, channel string) *SlackSink {
	return &SlackSink{api: goslack.New(token), channel: channel}
}

// NewSlackSinkWithAPIURL targets a custom API URL, for tests against a mock
// server.
func NewSlackSinkWithAPIURL(token, channel, apiURL string) *SlackSink {
	return &SlackSink{api: goslack.New(token, goslack.OptionAPIURL(apiURL)), channel: channel}
}

func (s *SlackSink) Name() string { return "slack" }

// Deliver posts one alert as a block message.
func (s *SlackSink) Deliver(ctx context.Context, msg Message) error {
	d := msg.Drift
	indicator := severityIndicator[string(d.Severity)]

	header := goslack.NewHeaderBlock(
		goslack.NewTextBlockObject(goslack.PlainTextType,
			fmt.Sprintf("%s Behavioral drift detected", indicator), true, false),
	)
	fields := []*goslack.TextBlockObject{
		goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Agent:*\n%s v%s", d.AgentID, d.AgentVersion), false, false),
		goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Environment:*\n%s", d.Environment), false, false),
		goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Metric:*\n%s", d.Metric), false, false),
		goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Severity:*\n%s", d.Severity), false, false),
		goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Change:*\n%s to %s (%+.1f%%)", formatValue(d, d.BaselineValue), formatValue(d, d.ObservedValue), d.DeltaPercent), false, false),
		goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Significance:*\np=%.4f (%s)", d.Significance, d.TestMethod), false, false),
	}
	section := goslack.NewSectionBlock(nil, fields, nil)
	footer := goslack.NewContextBlock("",
		goslack.NewTextBlockObject(goslack.MarkdownType,
			fmt.Sprintf("drift_id: %s | window: %s to %s (%d runs)",
				d.DriftID,
				d.ObservationWindowStart.UTC().Format("2006-01-02 15:04"),
				d.ObservationWindowEnd.UTC().Format("2006-01-02 15:04"),
				d.ObservationSampleSize),
			false, false),
	)

	_, _, err := s.api.PostMessageContext(ctx, s.channel,
		goslack.MsgOptionText(msg.Summary, false),
		goslack.MsgOptionBlocks(header, section, footer),
	)
	if err != nil {
		return fmt.Errorf("chat.postMessage: %w", err)
	}
	return nil
}
