package modules

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuribernstein/seyoawe-community/pkg/workflow"
)

// sourceRepo builds a local repository with a template the module can
// render.
func sourceRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "templates"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "templates", "server.conf.tmpl"),
		[]byte("host={{.host}}\nport={{.port}}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("fixtures\n"), 0o644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(".")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "fixtures", Email: "fixtures@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return dir
}

func newGit(t *testing.T, config map[string]interface{}) *GitModule {
	t.Helper()
	if config == nil {
		config = map[string]interface{}{}
	}
	if _, ok := config["repo"]; !ok {
		config["repo"] = sourceRepo(t)
	}
	mod, err := NewGitModule(config, slog.Default())
	require.NoError(t, err)
	m := mod.(*GitModule)
	t.Cleanup(m.Dispose)
	return m
}

func TestGitModule_CreateBranchAndCommit(t *testing.T) {
	m := newGit(t, nil)
	ctx := context.Background()

	res := m.Invoke(ctx, "create_branch", map[string]interface{}{"name": "feature/onboard"})
	require.Equal(t, workflow.StatusOK, res.Status, res.Message)

	res = m.Invoke(ctx, "add_files_from_templates", map[string]interface{}{
		"files": []interface{}{
			map[string]interface{}{
				"template":    "templates/server.conf.tmpl",
				"destination": "configs/web-01.conf",
				"vars":        map[string]interface{}{"host": "web-01", "port": 8080},
			},
		},
	})
	require.Equal(t, workflow.StatusOK, res.Status, res.Message)

	content, err := os.ReadFile(filepath.Join(m.dir, "configs", "web-01.conf"))
	require.NoError(t, err)
	assert.Equal(t, "host=web-01\nport=8080\n", string(content))

	res = m.Invoke(ctx, "commit", map[string]interface{}{"message": "add web-01 config"})
	require.Equal(t, workflow.StatusOK, res.Status, res.Message)
	assert.NotEmpty(t, res.Data.(map[string]interface{})["commit"])
}

func TestGitModule_TemplatesAllOrNothing(t *testing.T) {
	m := newGit(t, nil)

	res := m.Invoke(context.Background(), "add_files_from_templates", map[string]interface{}{
		"files": []interface{}{
			map[string]interface{}{
				"template":    "templates/server.conf.tmpl",
				"destination": "configs/good.conf",
				"vars":        map[string]interface{}{"host": "a", "port": 1},
			},
			map[string]interface{}{
				"template":    "templates/missing.tmpl",
				"destination": "configs/bad.conf",
			},
		},
	})

	assert.Equal(t, workflow.StatusFail, res.Status)
	_, err := os.Stat(filepath.Join(m.dir, "configs", "good.conf"))
	assert.True(t, os.IsNotExist(err), "no file is written when any render fails")
}

func TestGitModule_TemplateMissingVarFails(t *testing.T) {
	m := newGit(t, nil)

	res := m.Invoke(context.Background(), "add_files_from_templates", map[string]interface{}{
		"files": []interface{}{
			map[string]interface{}{
				"template":    "templates/server.conf.tmpl",
				"destination": "configs/incomplete.conf",
				"vars":        map[string]interface{}{"host": "a"},
			},
		},
	})
	assert.Equal(t, workflow.StatusFail, res.Status)
}

func TestGitModule_ExistingBranchPolicy(t *testing.T) {
	src := sourceRepo(t)

	m := newGit(t, map[string]interface{}{"repo": src})
	res := m.Invoke(context.Background(), "create_branch", map[string]interface{}{"name": "release"})
	require.Equal(t, workflow.StatusOK, res.Status)

	res = m.Invoke(context.Background(), "create_branch", map[string]interface{}{"name": "release"})
	assert.Equal(t, workflow.StatusFail, res.Status, "fail policy rejects an existing branch")

	reuser := newGit(t, map[string]interface{}{"repo": src, "handle_existing_branch": "pull"})
	res = reuser.Invoke(context.Background(), "create_branch", map[string]interface{}{"name": "other"})
	require.Equal(t, workflow.StatusOK, res.Status)
	res = reuser.Invoke(context.Background(), "create_branch", map[string]interface{}{"name": "other"})
	assert.Equal(t, workflow.StatusOK, res.Status, "pull policy reuses the branch")
}

func TestGitModule_Push(t *testing.T) {
	m := newGit(t, nil)
	ctx := context.Background()

	require.Equal(t, workflow.StatusOK, m.Invoke(ctx, "create_branch", map[string]interface{}{"name": "feature/push"}).Status)
	require.Equal(t, workflow.StatusOK, m.Invoke(ctx, "add_files_from_templates", map[string]interface{}{
		"files": []interface{}{
			map[string]interface{}{
				"template":    "templates/server.conf.tmpl",
				"destination": "configs/pushed.conf",
				"vars":        map[string]interface{}{"host": "h", "port": 1},
			},
		},
	}).Status)
	require.Equal(t, workflow.StatusOK, m.Invoke(ctx, "commit", map[string]interface{}{"message": "pushed"}).Status)

	res := m.Invoke(ctx, "push", nil)
	assert.Equal(t, workflow.StatusOK, res.Status, res.Message)
}

func TestGitModule_OpenPullRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/flows/pulls", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Add web-01", body["title"])

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"number":   7,
			"html_url": "https://github.com/acme/flows/pull/7",
		})
	}))
	defer srv.Close()

	m := newGit(t, nil)
	m.repoURL = "https://github.com/acme/flows.git"
	m.apiURL = srv.URL
	m.token = "tok"

	res := m.Invoke(context.Background(), "open_pull_request", map[string]interface{}{
		"title": "Add web-01",
		"body":  "rendered configs",
	})

	require.Equal(t, workflow.StatusOK, res.Status, res.Message)
	data := res.Data.(map[string]interface{})
	assert.Equal(t, "https://github.com/acme/flows/pull/7", data["url"])
}
