package stages

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/relaydev/relay/internal/config"
	"github.com/relaydev/relay/internal/logging"
	"github.com/relaydev/relay/internal/pipeline"
)

// ChatMessage is one message pulled from the team channel.
type ChatMessage struct {
	User      string `json:"user"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// ChatClient abstracts the chat service for testability.
type ChatClient interface {
	History(ctx context.Context, channel string, oldest time.Time) ([]ChatMessage, error)
	Post(ctx context.Context, channel, text string) error
}

// Match pairs a published commit with the chat message that requested it.
type Match struct {
	CommitSHA     string `json:"commit_sha"`
	CommitMessage string `json:"commit_message"`
	ChatUser      string `json:"chat_user"`
	ChatText      string `json:"chat_text"`
	ChatTimestamp string `json:"chat_timestamp"`
}

// Notify closes the loop with the team channel: it looks for recent chat
// messages that mention the published commits, replies to them, and stores
// the matches for the report stage. Notify is best-effort; the orchestrator
// never rolls back on its failure.
type Notify struct {
	RC  *pipeline.RunContext
	Cfg *config.Config
	Log *logging.StageLogger

	// Client is built from config when nil; tests inject a fake.
	Client ChatClient
}

func (n *Notify) Name() string { return "notify" }

func (n *Notify) Execute(ctx context.Context) (map[string]any, error) {
	if !n.Cfg.Chat.Enabled {
		n.Log.Info("chat disabled, skipping notification")
		return map[string]any{
			"skipped":       true,
			"matched":       0,
			"create_report": true,
		}, nil
	}

	client := n.Client
	if client == nil {
		client = NewSlackClient(n.Cfg.Chat.Token)
	}

	oldest := time.Now().AddDate(0, 0, -n.Cfg.Chat.TimeRangeDays)
	messages, err := client.History(ctx, n.Cfg.Chat.Channel, oldest)
	if err != nil {
		return nil, &pipeline.ExternalToolError{Tool: "chat", ExitCode: -1, Detail: err.Error()}
	}
	n.Log.Info("chat history fetched", "messages", len(messages), "since", oldest.Format(time.RFC3339))

	matches := MatchCommits(n.RC.LatestCommits, messages, n.Cfg.Chat.RequireTag)

	for _, m := range matches {
		sha := m.CommitSHA
		if len(sha) > 8 {
			sha = sha[:8]
		}
		reply := fmt.Sprintf("relay: commit %s (%s) validated and published", sha, m.CommitMessage)
		if err := client.Post(ctx, n.Cfg.Chat.Channel, reply); err != nil {
			return nil, &pipeline.ExternalToolError{Tool: "chat", ExitCode: -1, Detail: err.Error()}
		}
	}

	savePath := ""
	if len(matches) > 0 {
		dir := n.Cfg.Chat.SavePath
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(n.RC.WorkspacePath, dir)
		}
		savePath = filepath.Join(dir, "matches_"+time.Now().Format("20060102_150405")+".json")
		if err := pipeline.WriteJSON(savePath, matches); err != nil {
			return nil, err
		}
	}

	return map[string]any{
		"matched":       len(matches),
		"matches_path":  savePath,
		"create_report": true,
	}, nil
}

// MatchCommits finds chat messages that mention a commit's message text.
// When requireTag is set, only messages carrying the tag are considered.
func MatchCommits(commits []pipeline.CommitInfo, messages []ChatMessage, requireTag string) []Match {
	var matches []Match
	for _, c := range commits {
		needle := strings.ToLower(strings.TrimSpace(c.Message))
		if needle == "" {
			continue
		}
		for _, m := range messages {
			if requireTag != "" && !strings.Contains(m.Text, requireTag) {
				continue
			}
			if strings.Contains(strings.ToLower(m.Text), needle) {
				matches = append(matches, Match{
					CommitSHA:     c.SHA,
					CommitMessage: c.Message,
					ChatUser:      m.User,
					ChatText:      m.Text,
					ChatTimestamp: m.Timestamp,
				})
			}
		}
	}
	return matches
}

// slackClient implements ChatClient on the Slack Web API.
type slackClient struct {
	api *slack.Client
}

// NewSlackClient builds the production chat client.
func NewSlackClient(token string) ChatClient {
	return &slackClient{api: slack.New(token)}
}

func (s *slackClient) History(ctx context.Context, channel string, oldest time.Time) ([]ChatMessage, error) {
	var out []ChatMessage
	cursor := ""
	for {
		resp, err := s.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
			ChannelID: channel,
			Oldest:    fmt.Sprintf("%d.000000", oldest.Unix()),
			Cursor:    cursor,
			Limit:     200,
		})
		if err != nil {
			return nil, fmt.Errorf("conversation history: %w", err)
		}
		for _, msg := range resp.Messages {
			out = append(out, ChatMessage{
				User:      msg.User,
				Text:      msg.Text,
				Timestamp: msg.Timestamp,
			})
		}
		if !resp.HasMore || resp.ResponseMetaData.NextCursor == "" {
			return out, nil
		}
		cursor = resp.ResponseMetaData.NextCursor
	}
}

func (s *slackClient) Post(ctx context.Context, channel, text string) error {
	_, _, err := s.api.PostMessageContext(ctx, channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	return nil
}
