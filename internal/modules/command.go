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

//go:build unix

package modules

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"os/user"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/yuribernstein/seyoawe-community/pkg/workflow"
)

func init() {
	platformBuilders["command"] = NewCommandModule
}

// CommandModule runs local commands. A workdir in the instance config
// applies to every run unless the call overrides it with cwd.
type CommandModule struct {
	workdir string
	logger  *slog.Logger
}

// NewCommandModule builds a command module instance.
func NewCommandModule(config map[string]interface{}, logger *slog.Logger) (workflow.Module, error) {
	return &CommandModule{
		workdir: argString(config, "workdir", ""),
		logger:  logger,
	}, nil
}

// Invoke dispatches the run method.
func (m *CommandModule) Invoke(ctx context.Context, method string, args map[string]interface{}) *workflow.Result {
	if method != "run" {
		return workflow.Failf("command module has no method %q", method)
	}
	return m.run(ctx, args)
}

// run executes the command, optionally through a shell and optionally as
// another user. The result data always carries stdout, stderr, and the
// exit code; a non-zero exit is a fail result.
func (m *CommandModule) run(ctx context.Context, args map[string]interface{}) *workflow.Result {
	command := argString(args, "command", "")
	if command == "" {
		return workflow.Failf("command is required")
	}

	if timeout := argFloat(args, "timeout_seconds", 0); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeout*float64(time.Second)))
		defer cancel()
	}

	var cmd *exec.Cmd
	if argBool(args, "shell", true) {
		cmd = exec.CommandContext(ctx, "/bin/sh", "-c", command)
	} else {
		fields := strings.Fields(command)
		if len(fields) == 0 {
			return workflow.Failf("command is blank")
		}
		cmd = exec.CommandContext(ctx, fields[0], fields[1:]...)
	}

	if cwd := argString(args, "cwd", m.workdir); cwd != "" {
		cmd.Dir = cwd
	}
	for k, v := range argMap(args, "env") {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%v", k, v))
	}

	if runAs := argString(args, "user", ""); runAs != "" {
		cred, err := lookupCredential(runAs)
		if err != nil {
			return workflow.Failf("cannot switch to user %q: %v", runAs, err)
		}
		cmd.SysProcAttr = &syscall.SysProcAttr{Credential: cred}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	err := cmd.Run()
	elapsed := time.Since(started)

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return workflow.Failf("cannot run command: %v", err)
		}
	}
	if ctx.Err() == context.DeadlineExceeded {
		return workflow.Timeoutf("command did not finish within its timeout")
	}

	data := map[string]interface{}{
		"stdout":           strings.TrimRight(stdout.String(), "\n"),
		"stderr":           strings.TrimRight(stderr.String(), "\n"),
		"exit_code":        exitCode,
		"duration_seconds": elapsed.Seconds(),
	}
	m.logger.Debug("command finished", "exit_code", exitCode, "duration", elapsed)

	if exitCode != 0 {
		return &workflow.Result{
			Status:  workflow.StatusFail,
			Message: fmt.Sprintf("command exited with code %d", exitCode),
			Data:    data,
		}
	}
	return workflow.OK("command succeeded", data)
}

// lookupCredential resolves a username into the uid/gid pair for a
// privilege drop.
func lookupCredential(username string) (*syscall.Credential, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return nil, err
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("non-numeric uid %q", u.Uid)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("non-numeric gid %q", u.Gid)
	}
	return &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)}, nil
}
