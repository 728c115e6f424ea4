package gamedata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"clanwatch/internal/reminder"
	logx "clanwatch/pkg/logx"
)

type APIConfig struct {
	BaseURL string
	Token   string
	// Timeout bounds one fetch. 0 means 10s.
	Timeout time.Duration
}

// APIClient talks to the game-data HTTP API. One GET per (family, group);
// the resolver above it handles caching and error classification for callers.
type APIClient struct {
	base  string
	token string
	hc    *http.Client
	log   logx.Logger
}

func NewAPIClient(cfg APIConfig, log logx.Logger) (*APIClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("gamedata: base_url is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		base:  base,
		token: strings.TrimSpace(cfg.Token),
		hc:    &http.Client{Timeout: timeout},
		log:   log,
	}, nil
}

func familyPath(f reminder.EventFamily) (string, error) {
	switch f {
	case reminder.FamilyWar:
		return "war", nil
	case reminder.FamilyRaid:
		return "raid", nil
	case reminder.FamilyPoints:
		return "points", nil
	}
	return "", fmt.Errorf("gamedata: unknown family %q", f)
}

type cycleDoc struct {
	State   string    `json:"state"`
	StartAt time.Time `json:"start_time"`
	EndAt   time.Time `json:"end_time"`
	Members []struct {
		Tag           string `json:"tag"`
		Name          string `json:"name"`
		Role          string `json:"role"`
		Participating bool   `json:"participating"`
		ActionsUsed   int    `json:"actions_used"`
		ActionsTotal  int    `json:"actions_total"`
		Points        int    `json:"points"`
	} `json:"members"`
}

func (c *APIClient) ActiveCycle(ctx context.Context, f reminder.EventFamily, g reminder.GroupRef) (reminder.Cycle, error) {
	var zero reminder.Cycle

	p, err := familyPath(f)
	if err != nil {
		return zero, err
	}
	u := fmt.Sprintf("%s/v1/groups/%s/%s", c.base, url.PathEscape(string(g)), p)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return zero, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return zero, errors.Join(ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return zero, ErrNoCycle
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	default:
		// 429s and 5xx both mean "try again next tick".
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return zero, errors.Join(ErrUnavailable, fmt.Errorf("gamedata: %s %s: http %d: %s", req.Method, p, resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var doc cycleDoc
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&doc); err != nil {
		return zero, errors.Join(ErrUnavailable, fmt.Errorf("gamedata: decode: %w", err))
	}
	return c.toCycle(f, g, doc)
}

func (c *APIClient) toCycle(f reminder.EventFamily, g reminder.GroupRef, doc cycleDoc) (reminder.Cycle, error) {
	var zero reminder.Cycle

	state := cycleState(doc.State)
	if state == "" {
		return zero, ErrNoCycle
	}
	if doc.EndAt.IsZero() {
		return zero, errors.Join(ErrUnavailable, errors.New("gamedata: cycle has no end_time"))
	}

	members := make([]reminder.Member, 0, len(doc.Members))
	for _, m := range doc.Members {
		members = append(members, reminder.Member{
			Tag:           m.Tag,
			Name:          m.Name,
			Role:          reminder.Role(strings.ToLower(m.Role)),
			Participating: m.Participating,
			ActionsUsed:   m.ActionsUsed,
			ActionsTotal:  m.ActionsTotal,
			Points:        m.Points,
		})
	}

	startsAt := doc.StartAt.UTC()
	return reminder.Cycle{
		ID:           reminder.CycleID(f, g, startsAt),
		Family:       f,
		Group:        g,
		State:        state,
		StartsAt:     startsAt,
		EndsAt:       doc.EndAt.UTC(),
		Participants: members,
	}, nil
}

// cycleState maps upstream phase strings onto the engine's three states.
// Unknown phases map to "" and are treated as no live cycle.
func cycleState(s string) reminder.CycleState {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "preparation", "pending":
		return reminder.CyclePending
	case "inwar", "active", "ongoing":
		return reminder.CycleActive
	case "warended", "ended":
		return reminder.CycleEnded
	}
	return ""
}
