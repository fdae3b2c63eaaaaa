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
	"fmt"
	"log/slog"
	"net/smtp"
	"os"
	"strings"

	"github.com/yuribernstein/seyoawe-community/pkg/errors"
	"github.com/yuribernstein/seyoawe-community/pkg/workflow"
)

// sendMailFunc matches smtp.SendMail. Swapped in tests.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailModule sends plain-text mail over SMTP. Host, port, and optional
// auth come from the instance config or SMTP_* environment variables.
type EmailModule struct {
	host     string
	port     string
	username string
	password string
	from     string
	send     sendMailFunc
	logger   *slog.Logger
}

// NewEmailModule builds an email module instance.
func NewEmailModule(config map[string]interface{}, logger *slog.Logger) (workflow.Module, error) {
	host := argString(config, "host", os.Getenv("SMTP_HOST"))
	if host == "" {
		return nil, &errors.ConfigError{Key: "host", Reason: "smtp host missing in config and SMTP_HOST"}
	}
	return &EmailModule{
		host:     host,
		port:     argString(config, "port", "587"),
		username: argString(config, "username", os.Getenv("SMTP_USERNAME")),
		password: argString(config, "password", os.Getenv("SMTP_PASSWORD")),
		from:     argString(config, "from", ""),
		send:     smtp.SendMail,
		logger:   logger,
	}, nil
}

// Invoke dispatches the send method.
func (m *EmailModule) Invoke(_ context.Context, method string, args map[string]interface{}) *workflow.Result {
	if method != "send" {
		return workflow.Failf("email module has no method %q", method)
	}

	to := argStrings(args, "to")
	if len(to) == 0 {
		return workflow.Failf("to is required")
	}
	from := argString(args, "from", m.from)
	if from == "" {
		return workflow.Failf("from is required (argument or instance config)")
	}
	subject := argString(args, "subject", "")
	body := argString(args, "body", "")

	msg := strings.Join([]string{
		"From: " + from,
		"To: " + strings.Join(to, ", "),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		`Content-Type: text/plain; charset="utf-8"`,
		"",
		body,
	}, "\r\n")

	var auth smtp.Auth
	if m.username != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}

	addr := fmt.Sprintf("%s:%s", m.host, m.port)
	if err := m.send(addr, auth, from, to, []byte(msg)); err != nil {
		return workflow.Failf("smtp send failed: %v", err)
	}

	m.logger.Info("email sent", "to", to, "subject", subject)
	return workflow.OK("email sent", map[string]interface{}{
		"to":      to,
		"subject": subject,
	})
}
