package cli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jgoldverg/xdccget/internal"
)

func testAppConfig(dir string) *internal.AppConfig {
	return &internal.AppConfig{
		Server:               "irc.example.net:6667",
		Channel:              "nibl",
		Nickname:             "leech",
		DownloadDir:          dir,
		ConnectTimeoutSec:    30,
		ControlReadPollMs:    1000,
		DataReadPollMs:       500,
		WriteTimeoutSec:      30,
		InactivityTimeoutSec: 60,
		LoginTimeoutSec:      120,
		MaxLineBytes:         4096,
		QueueRetrySec:        30,
		MaxRequestRetries:    3,
	}
}

func TestSessionConfigFromConvertsUnits(t *testing.T) {
	cfg := sessionConfigFrom(testAppConfig("/data"))
	if cfg.ControlPoll != time.Second || cfg.DataPoll != 500*time.Millisecond {
		t.Fatalf("unexpected polls: control=%v data=%v", cfg.ControlPoll, cfg.DataPoll)
	}
	if cfg.InactivityTimeout != time.Minute || cfg.LoginTimeout != 2*time.Minute || cfg.QueueRetry != 30*time.Second {
		t.Fatalf("unexpected timeouts: %+v", cfg)
	}
	if cfg.Dir != "/data" || cfg.MaxLineBytes != 4096 || cfg.MaxRequestRetries != 3 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestBuildJobsFromFlags(t *testing.T) {
	jobs, err := buildJobs(testAppConfig("/data"), &GetCommandOpts{
		Channel: "#moviegods",
		Bot:     "Archive",
		Packs:   []string{"3-4", "9"},
	})
	if err != nil {
		t.Fatalf("buildJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	cfg := jobs[0].cfg
	if cfg.Channel != "#moviegods" || cfg.Server != "irc.example.net:6667" || cfg.Dir != "/data" {
		t.Fatalf("flags not layered over config: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.Packages, []int{3, 4, 9}) {
		t.Fatalf("unexpected packages %v", cfg.Packages)
	}
}

func TestBuildJobsRequiresBotAndPacks(t *testing.T) {
	if _, err := buildJobs(testAppConfig("/data"), &GetCommandOpts{Packs: []string{"1"}}); err == nil {
		t.Fatalf("expected missing bot error")
	}
	if _, err := buildJobs(testAppConfig("/data"), &GetCommandOpts{Bot: "Archive"}); err == nil {
		t.Fatalf("expected missing packs error")
	}
	if _, err := buildJobs(testAppConfig("/data"), &GetCommandOpts{Bot: "Archive", Packs: []string{"x"}}); err == nil {
		t.Fatalf("expected pack parse error")
	}
}

func TestBuildJobsPlanPrecedence(t *testing.T) {
	path := writePlan(t, "plan.yaml", `
nickname: planner
dir: /plan
jobs:
  - bot: Archive
    packs: [1, 2]
  - bot: Other
    packs: "5"
    nickname: special
    dir: /special
`)
	jobs, err := buildJobs(testAppConfig("/data"), &GetCommandOpts{
		Nickname: "flagnick",
		Server:   "irc.flag.net:6697",
		PlanFile: path,
	})
	if err != nil {
		t.Fatalf("buildJobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 plan jobs, got %d", len(jobs))
	}
	first, second := jobs[0].cfg, jobs[1].cfg
	if first.Server != "irc.flag.net:6697" || first.Nickname != "planner" || first.Dir != "/plan" {
		t.Fatalf("document level should override flags: %+v", first)
	}
	if second.Nickname != "special" || second.Dir != "/special" || second.Bot != "Other" {
		t.Fatalf("job level should override document: %+v", second)
	}
	if !reflect.DeepEqual(second.Packages, []int{5}) {
		t.Fatalf("unexpected packages %v", second.Packages)
	}
}

func TestBuildJobsPlanPlusFlagJob(t *testing.T) {
	path := writePlan(t, "plan.yaml", "jobs:\n  - bot: Archive\n    packs: [1]\n")
	jobs, err := buildJobs(testAppConfig("/data"), &GetCommandOpts{
		PlanFile: path,
		Bot:      "Extra",
		Packs:    []string{"8"},
	})
	if err != nil {
		t.Fatalf("buildJobs: %v", err)
	}
	if len(jobs) != 2 || jobs[1].cfg.Bot != "Extra" {
		t.Fatalf("expected plan job followed by flag job, got %+v", jobs)
	}
}

// scriptedBot plays both the IRC server and the bot's DCC side for a single
// pack request.
func scriptedBot(t *testing.T, payload []byte) string {
	t.Helper()
	data, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen data: %v", err)
	}
	ctrl, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen control: %v", err)
	}
	t.Cleanup(func() {
		_ = data.Close()
		_ = ctrl.Close()
	})

	go func() {
		conn, err := data.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write(payload)
	}()

	go func() {
		conn, err := ctrl.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		port := data.Addr().(*net.TCPAddr).Port
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			line := strings.TrimRight(scanner.Text(), "\r")
			switch {
			case strings.HasPrefix(line, "USER "):
				fmt.Fprintf(conn, ":irc.test 376 leech :End of /MOTD command.\r\n")
			case line == "JOIN #nibl":
				fmt.Fprintf(conn, ":leech!~leech@localhost JOIN :#nibl\r\n")
			case line == "PRIVMSG Archive :xdcc send #7":
				fmt.Fprintf(conn, ":Archive!~bot@localhost PRIVMSG leech :\x01DCC SEND \"episode.mkv\" 2130706433 %d %d\x01\r\n", port, len(payload))
			case strings.HasPrefix(line, "QUIT"):
				return
			}
		}
	}()
	return ctrl.Addr().String()
}

func writeTestConfig(t *testing.T, server, dir string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	content := fmt.Sprintf(`server = %q
channel = "nibl"
nickname = "leech"
download_dir = %q
log_level = "error"
control_read_poll_ms = 50
data_read_poll_ms = 50
inactivity_timeout_sec = 10
login_timeout_sec = 10
`, server, dir)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestGetCommandDownloadsPack(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	payload := bytes.Repeat([]byte("xdcc"), 64*1024)
	server := scriptedBot(t, payload)
	dir := filepath.Join(t.TempDir(), "downloads")
	cfgPath := writeTestConfig(t, server, dir)

	var out bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"--config", cfgPath, "get", "--no-progress", "--bot", "Archive", "7"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := root.ExecuteContext(ctx); err != nil {
		t.Fatalf("get failed: %v\n%s", err, out.String())
	}

	got, err := os.ReadFile(filepath.Join(dir, "episode.mkv"))
	if err != nil {
		t.Fatalf("read download: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("downloaded %d bytes, want %d", len(got), len(payload))
	}
	if !strings.Contains(out.String(), "episode.mkv") || !strings.Contains(out.String(), "1 completed") {
		t.Fatalf("summary missing from output:\n%s", out.String())
	}
}

func TestGetCommandRejectsMissingBot(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfgPath := writeTestConfig(t, "127.0.0.1:1", t.TempDir())

	root := NewRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"--config", cfgPath, "get", "12"})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "bot") {
		t.Fatalf("expected bot validation error, got %v", err)
	}
	if errors.Is(err, ErrTransfersFailed) {
		t.Fatalf("validation errors must not be reported as transfer failures")
	}
}
