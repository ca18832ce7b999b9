package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"screening-gateway/internal/campaign"
	"screening-gateway/pkg/logger"
)

func main() {
	var (
		gatewayURL = flag.String("gateway", "http://localhost:8080", "screening gateway base URL")
		agentID    = flag.String("agent", "", "voice agent id to call through")
		contacts   = flag.String("contacts", "", "CSV contact file (name,phone)")
		token      = flag.String("token", "", "operator access token (skips login)")
		user       = flag.String("user", "", "operator user for login")
		password   = flag.String("password", "", "operator password for login")
		poll       = flag.Duration("poll", 3*time.Second, "status poll interval")
		budget     = flag.Duration("budget", 10*time.Minute, "per-call completion budget")
		cooldown   = flag.Duration("cooldown", 3*time.Second, "pause between contacts")
		env        = flag.String("env", "local", "environment name for logging")
	)
	flag.Parse()

	log := logger.New(*env)
	slog.SetDefault(log)

	if *agentID == "" || *contacts == "" {
		fmt.Fprintln(os.Stderr, "usage: campaign -agent <id> -contacts <file.csv> [-gateway url] [-token t | -user u -password p]")
		os.Exit(2)
	}

	rows, err := loadContacts(*contacts)
	if err != nil {
		log.Error("contact file load failed", "path", *contacts, "err", err)
		os.Exit(1)
	}
	if len(rows) == 0 {
		log.Error("contact file has no rows", "path", *contacts)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	accessToken := *token
	if accessToken == "" {
		accessToken, err = login(ctx, *gatewayURL, *user, *password)
		if err != nil {
			log.Error("login failed", "err", err)
			os.Exit(1)
		}
	}

	client := campaign.NewHTTPClient(campaign.ClientOptions{
		BaseURL: strings.TrimRight(*gatewayURL, "/"),
		Token:   accessToken,
	})
	orch := campaign.NewOrchestrator(client, campaign.Tunables{
		PollInterval:     *poll,
		CompletionBudget: *budget,
		Cooldown:         *cooldown,
	}, log)

	sum := orch.Run(ctx, *agentID, rows)

	out, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		log.Error("summary encode failed", "err", err)
		os.Exit(1)
	}
	fmt.Println(string(out))

	if sum.Completed < len(rows) {
		os.Exit(1)
	}
}

// loadContacts reads a CSV of name,phone rows. A header row is skipped when
// its phone column does not look like a number.
func loadContacts(path string) ([]campaign.Contact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var out []campaign.Contact
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) < 2 {
			continue
		}
		name := strings.TrimSpace(rec[0])
		phone := strings.TrimSpace(rec[1])
		if phone == "" {
			continue
		}
		if len(out) == 0 && !hasDigit(phone) {
			// header row
			continue
		}
		out = append(out, campaign.Contact{Name: name, Phone: phone})
	}
	return out, nil
}

func hasDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

func login(ctx context.Context, gatewayURL, user, password string) (string, error) {
	if user == "" || password == "" {
		return "", fmt.Errorf("token or user/password required")
	}
	body, _ := json.Marshal(map[string]string{"user": user, "password": password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(gatewayURL, "/")+"/v1/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login returned %d", resp.StatusCode)
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("login response missing access_token")
	}
	return out.AccessToken, nil
}
