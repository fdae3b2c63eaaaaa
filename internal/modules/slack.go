// Copyright 2025 The SEYOAWE Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package modules

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/slack-go/slack"

	"github.com/yuribernstein/seyoawe-community/internal/log"
	"github.com/yuribernstein/seyoawe-community/pkg/errors"
	"github.com/yuribernstein/seyoawe-community/pkg/workflow"
)

// slackAPI is the slice of the slack client the module uses. Narrowed for
// tests.
type slackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackModule posts messages through the Slack Web API. The token comes
// from the instance config or SLACK_TOKEN.
type SlackModule struct {
	api            slackAPI
	defaultChannel string
	logger         *slog.Logger
}

// NewSlackModule builds a slack module instance.
func NewSlackModule(config map[string]interface{}, logger *slog.Logger) (workflow.Module, error) {
	token := argString(config, "token", os.Getenv("SLACK_TOKEN"))
	if token == "" {
		return nil, &errors.ConfigError{Key: "token", Reason: "slack token missing in config and SLACK_TOKEN"}
	}
	logger.Debug("slack client configured", "token", log.SanitizeToken(token))
	return &SlackModule{
		api:            slack.New(token),
		defaultChannel: argString(config, "channel", ""),
		logger:         logger,
	}, nil
}

// Invoke dispatches send_message.
func (m *SlackModule) Invoke(ctx context.Context, method string, args map[string]interface{}) *workflow.Result {
	if method != "send_message" {
		return workflow.Failf("slack module has no method %q", method)
	}

	channel := argString(args, "channel", m.defaultChannel)
	if channel == "" {
		return workflow.Failf("channel is required")
	}

	var options []slack.MsgOption
	if text := argString(args, "text", ""); text != "" {
		options = append(options, slack.MsgOptionText(text, false))
	}
	if rawBlocks, ok := args["blocks"]; ok && rawBlocks != nil {
		blocks, err := decodeBlocks(rawBlocks)
		if err != nil {
			return workflow.Failf("cannot decode blocks: %v", err)
		}
		options = append(options, slack.MsgOptionBlocks(blocks.BlockSet...))
	}
	if len(options) == 0 {
		return workflow.Failf("either text or blocks is required")
	}

	channelID, timestamp, err := m.api.PostMessageContext(ctx, channel, options...)
	if err != nil {
		return workflow.Failf("slack post failed: %v", err)
	}
	return workflow.OK("message posted", map[string]interface{}{
		"channel": channelID,
		"ts":      timestamp,
	})
}

// decodeBlocks converts a Block Kit JSON fragment from the document into
// slack block types.
func decodeBlocks(v interface{}) (slack.Blocks, error) {
	var blocks slack.Blocks
	raw, err := json.Marshal(map[string]interface{}{"blocks": v})
	if err != nil {
		return blocks, err
	}
	var msg struct {
		Blocks slack.Blocks `json:"blocks"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return blocks, err
	}
	return msg.Blocks, nil
}
