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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/yuribernstein/seyoawe-community/internal/httpclient"
	"github.com/yuribernstein/seyoawe-community/pkg/errors"
	"github.com/yuribernstein/seyoawe-community/pkg/workflow"
)

// Existing-branch policies for create_branch.
const (
	existingBranchPull = "pull"
	existingBranchFail = "fail"
)

// GitModule binds one repository per instance: the clone happens at
// instantiation and every method operates on that working tree until the
// pool disposes it.
type GitModule struct {
	repoURL    string
	baseBranch string
	onExisting string
	token      string
	authorName string
	authorMail string

	dir    string
	repo   *git.Repository
	http   *http.Client
	apiURL string
	logger *slog.Logger
}

// NewGitModule clones the configured repository into a scratch directory.
func NewGitModule(config map[string]interface{}, logger *slog.Logger) (workflow.Module, error) {
	repoURL := argString(config, "repo", "")
	if repoURL == "" {
		return nil, &errors.ConfigError{Key: "repo", Reason: "git module requires a repo url"}
	}
	onExisting := argString(config, "handle_existing_branch", existingBranchFail)
	if onExisting != existingBranchPull && onExisting != existingBranchFail {
		return nil, &errors.ConfigError{
			Key:    "handle_existing_branch",
			Reason: fmt.Sprintf("unknown policy %q, use pull or fail", onExisting),
		}
	}

	m := &GitModule{
		repoURL:    repoURL,
		baseBranch: argString(config, "base_branch", ""),
		onExisting: onExisting,
		token:      argString(config, "token", os.Getenv("GIT_TOKEN")),
		authorName: argString(config, "author_name", "seyoawe"),
		authorMail: argString(config, "author_email", "seyoawe@localhost"),
		http:       httpclient.New(httpclient.Config{UserAgent: "seyoawe"}),
		apiURL:     argString(config, "api_url", "https://api.github.com"),
		logger:     logger,
	}

	dir, err := os.MkdirTemp("", "sawe-git-*")
	if err != nil {
		return nil, errors.Wrap(err, "creating git scratch directory")
	}
	opts := &git.CloneOptions{URL: repoURL, Auth: m.auth()}
	if m.baseBranch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(m.baseBranch)
	}
	repo, err := git.PlainClone(dir, false, opts)
	if err != nil {
		os.RemoveAll(dir)
		return nil, errors.Wrapf(err, "cloning %s", repoURL)
	}
	m.dir = dir
	m.repo = repo
	return m, nil
}

// Dispose removes the working tree.
func (m *GitModule) Dispose() {
	if m.dir != "" {
		if err := os.RemoveAll(m.dir); err != nil {
			m.logger.Warn("git scratch cleanup failed", "dir", m.dir, "error", err)
		}
	}
}

// auth returns token credentials for http(s) remotes.
func (m *GitModule) auth() transport.AuthMethod {
	if m.token == "" || !strings.HasPrefix(m.repoURL, "http") {
		return nil
	}
	return &githttp.BasicAuth{Username: m.token, Password: "x-oauth-basic"}
}

// Invoke dispatches the repository methods.
func (m *GitModule) Invoke(ctx context.Context, method string, args map[string]interface{}) *workflow.Result {
	switch method {
	case "create_branch":
		return m.createBranch(args)
	case "add_files_from_templates":
		return m.addFilesFromTemplates(args)
	case "commit":
		return m.commit(args)
	case "push":
		return m.push(ctx)
	case "open_pull_request":
		return m.openPullRequest(ctx, args)
	default:
		return workflow.Failf("git module has no method %q", method)
	}
}

// createBranch checks out a new branch off the current head. When the
// branch already exists the configured policy decides between reusing it
// (pull) and failing.
func (m *GitModule) createBranch(args map[string]interface{}) *workflow.Result {
	name := argString(args, "name", "")
	if name == "" {
		return workflow.Failf("name is required")
	}
	wt, err := m.repo.Worktree()
	if err != nil {
		return workflow.FailErr(err)
	}

	ref := plumbing.NewBranchReferenceName(name)
	err = wt.Checkout(&git.CheckoutOptions{Branch: ref, Create: true})
	if err == nil {
		return workflow.OK("branch created", map[string]interface{}{"branch": name})
	}

	if m.onExisting == existingBranchFail {
		return workflow.Failf("cannot create branch %q: %v", name, err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: ref}); err != nil {
		return workflow.Failf("cannot reuse branch %q: %v", name, err)
	}
	// Pull only when the remote actually tracks the branch; a branch
	// created locally in an earlier run has nothing to pull.
	if _, refErr := m.repo.Reference(plumbing.NewRemoteReferenceName("origin", name), true); refErr == nil {
		if err := wt.Pull(&git.PullOptions{ReferenceName: ref, Auth: m.auth()}); err != nil && err != git.NoErrAlreadyUpToDate {
			return workflow.Failf("cannot pull branch %q: %v", name, err)
		}
	}
	return workflow.OK("existing branch reused", map[string]interface{}{"branch": name, "reused": true})
}

// addFilesFromTemplates renders Go text templates into the working tree.
// Every template renders to memory first; nothing is written unless all
// of them succeed.
func (m *GitModule) addFilesFromTemplates(args map[string]interface{}) *workflow.Result {
	files, ok := args["files"].([]interface{})
	if !ok || len(files) == 0 {
		return workflow.Failf("files must be a non-empty list")
	}

	type rendered struct {
		destination string
		content     []byte
	}
	out := make([]rendered, 0, len(files))

	for i, raw := range files {
		spec, ok := raw.(map[string]interface{})
		if !ok {
			return workflow.Failf("files[%d] must be an object", i)
		}
		src := argString(spec, "template", "")
		dst := argString(spec, "destination", "")
		if src == "" || dst == "" {
			return workflow.Failf("files[%d] needs template and destination", i)
		}
		if strings.Contains(dst, "..") {
			return workflow.Failf("files[%d] destination escapes the repository", i)
		}

		source, err := os.ReadFile(filepath.Join(m.dir, filepath.Clean(src)))
		if err != nil {
			return workflow.Failf("cannot read template %q: %v", src, err)
		}
		tmpl, err := template.New(filepath.Base(src)).Option("missingkey=error").Parse(string(source))
		if err != nil {
			return workflow.Failf("cannot parse template %q: %v", src, err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, argMap(spec, "vars")); err != nil {
			return workflow.Failf("cannot render template %q: %v", src, err)
		}
		out = append(out, rendered{destination: dst, content: buf.Bytes()})
	}

	written := make([]string, 0, len(out))
	for _, f := range out {
		path := filepath.Join(m.dir, filepath.Clean(f.destination))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return workflow.FailErr(err)
		}
		if err := os.WriteFile(path, f.content, 0o644); err != nil {
			return workflow.FailErr(err)
		}
		written = append(written, f.destination)
	}
	return workflow.OK("files rendered", map[string]interface{}{"files": written})
}

// commit stages everything and commits with the configured author.
func (m *GitModule) commit(args map[string]interface{}) *workflow.Result {
	message := argString(args, "message", "")
	if message == "" {
		return workflow.Failf("message is required")
	}
	wt, err := m.repo.Worktree()
	if err != nil {
		return workflow.FailErr(err)
	}
	if _, err := wt.Add("."); err != nil {
		return workflow.Failf("cannot stage changes: %v", err)
	}
	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: m.authorName, Email: m.authorMail, When: time.Now()},
	})
	if err != nil {
		return workflow.Failf("cannot commit: %v", err)
	}
	return workflow.OK("committed", map[string]interface{}{"commit": hash.String()})
}

// push sends the current branch to the remote.
func (m *GitModule) push(ctx context.Context) *workflow.Result {
	err := m.repo.PushContext(ctx, &git.PushOptions{Auth: m.auth()})
	if err == git.NoErrAlreadyUpToDate {
		return workflow.OK("already up to date", nil)
	}
	if err != nil {
		return workflow.Failf("push failed: %v", err)
	}
	return workflow.OK("pushed", nil)
}

// openPullRequest opens a pull request through the GitHub REST API from
// the current branch into the base branch.
func (m *GitModule) openPullRequest(ctx context.Context, args map[string]interface{}) *workflow.Result {
	title := argString(args, "title", "")
	if title == "" {
		return workflow.Failf("title is required")
	}
	base := argString(args, "base", m.baseBranch)
	if base == "" {
		base = "main"
	}

	head, err := m.repo.Head()
	if err != nil {
		return workflow.FailErr(err)
	}

	ownerRepo, err := ownerRepoFromURL(m.repoURL)
	if err != nil {
		return workflow.FailErr(err)
	}

	payload, err := json.Marshal(map[string]interface{}{
		"title": title,
		"body":  argString(args, "body", ""),
		"head":  head.Name().Short(),
		"base":  base,
	})
	if err != nil {
		return workflow.FailErr(err)
	}

	url := fmt.Sprintf("%s/repos/%s/pulls", strings.TrimRight(m.apiURL, "/"), ownerRepo)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return workflow.FailErr(err)
	}
	req.Header.Set("Authorization", "Bearer "+m.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return workflow.Failf("pull request call failed: %v", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var body map[string]interface{}
	_ = json.Unmarshal(raw, &body)

	if resp.StatusCode != http.StatusCreated {
		return workflow.Failf("pull request rejected with status %d: %v", resp.StatusCode, body["message"])
	}
	return workflow.OK("pull request opened", map[string]interface{}{
		"number": body["number"],
		"url":    body["html_url"],
	})
}

// ownerRepoFromURL extracts "owner/repo" from an http(s) or ssh remote.
func ownerRepoFromURL(repoURL string) (string, error) {
	trimmed := strings.TrimSuffix(repoURL, ".git")
	if idx := strings.Index(trimmed, "://"); idx >= 0 {
		parts := strings.SplitN(trimmed[idx+3:], "/", 2)
		if len(parts) == 2 {
			return parts[1], nil
		}
	}
	if idx := strings.Index(trimmed, ":"); idx >= 0 && strings.Contains(trimmed, "@") {
		return trimmed[idx+1:], nil
	}
	return "", fmt.Errorf("cannot determine owner/repo from %q", repoURL)
}
