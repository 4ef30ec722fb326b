package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/CLIProxyAPIFallback/internal/fallback"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/provider"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/usage"
)

// Candidate is one (credential, model) pair of the cascade.
type Candidate struct {
	Kind        usage.CandidateKind
	Index       int // 1-based position among fallbacks; 0 for primary and backup.
	Model       string
	APIKey      string
	Timeout     time.Duration
	MaxRetries  int
	Temperature *float64
	MaxTokens   int
}

// Label identifies the candidate in logs, e.g. "fallback#2:gpt-4o".
func (c Candidate) Label() string {
	if c.Kind == usage.KindFallback {
		return fmt.Sprintf("%s#%d:%s", c.Kind, c.Index, c.Model)
	}
	return fmt.Sprintf("%s:%s", c.Kind, c.Model)
}

func (c Candidate) state() State {
	switch c.Kind {
	case usage.KindBackup:
		return StateTryingBackup
	case usage.KindFallback:
		return StateTryingFallback
	default:
		return StateTryingPrimary
	}
}

// request applies the candidate's model and overrides to req.
func (c Candidate) request(req provider.Request) provider.Request {
	out := req
	out.Model = c.Model
	if c.Temperature != nil {
		temp := *c.Temperature
		out.Temperature = &temp
	}
	if c.MaxTokens > 0 {
		out.MaxTokens = c.MaxTokens
	}
	return out
}

// BuildCandidates returns the cascade for cfg in the order it is tried.
func BuildCandidates(cfg fallback.Config) []Candidate {
	sys := cfg.Fallback
	creds := cfg.Credentials
	primaryKey := strings.TrimSpace(creds.PrimaryKey)
	backupKey := strings.TrimSpace(creds.BackupKey)

	out := []Candidate{{
		Kind:    usage.KindPrimary,
		Model:   sys.PrimaryModel,
		APIKey:  primaryKey,
		Timeout: sys.PrimaryTimeout(),
	}}
	if backupKey != "" {
		out = append(out, Candidate{
			Kind:    usage.KindBackup,
			Model:   sys.PrimaryModel,
			APIKey:  backupKey,
			Timeout: sys.PrimaryTimeout(),
		})
	}
	if !sys.Enabled {
		return out
	}

	fallbackKey := primaryKey
	if fallbackKey == "" {
		fallbackKey = backupKey
	}
	for i, m := range sys.EnabledModels() {
		if i >= sys.MaxFallbackAttempts {
			break
		}
		out = append(out, Candidate{
			Kind:        usage.KindFallback,
			Index:       i + 1,
			Model:       m.ModelID,
			APIKey:      fallbackKey,
			Timeout:     m.Timeout(),
			MaxRetries:  m.MaxRetries,
			Temperature: m.Temperature,
			MaxTokens:   m.MaxTokens,
		})
	}
	return out
}
