// Package conflict checks login and alias uniqueness of a batch.
package conflict

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/devplatform/directory-sync/internal/directory"
	"github.com/devplatform/directory-sync/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	FieldLogin = "login"
	FieldAlias = "alias"
)

// Conflict is one colliding value of one row
type Conflict struct {
	Line  int    `json:"line"`
	Login string `json:"login"`
	Field string `json:"field"`
	Value string `json:"value"`
	With  string `json:"with"`
}

func (c Conflict) String() string {
	return fmt.Sprintf("line %d (%s): %s %q collides with %s", c.Line, c.Login, c.Field, c.Value, c.With)
}

// ConflictError aborts a batch with every collision found
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d uniqueness conflicts", len(e.Conflicts))
	for _, c := range e.Conflicts {
		b.WriteString("\n\t* ")
		b.WriteString(c.String())
	}
	return b.String()
}

// SnapshotSource provides identity snapshots
type SnapshotSource interface {
	Users(ctx context.Context, force bool) (*directory.UserSnapshot, time.Time, error)
}

// Detector finds login and alias collisions
type Detector struct {
	source SnapshotSource
	logger *logrus.Logger
}

// NewDetector creates a detector reading identities from source
func NewDetector(source SnapshotSource, logger *logrus.Logger) *Detector {
	return &Detector{source: source, logger: logger}
}

type claim struct {
	candidate *models.CandidateUser
	field     string
}

// CheckUniqueness compares a batch against itself and against a freshly loaded snapshot
func (d *Detector) CheckUniqueness(ctx context.Context, candidates []*models.CandidateUser, mode models.Mode) (bool, []Conflict, error) {
	snap, fetchedAt, err := d.source.Users(ctx, true)
	if err != nil {
		return false, nil, fmt.Errorf("failed to refresh identities for uniqueness check: %w", err)
	}
	d.logger.WithFields(logrus.Fields{
		"mode":       mode,
		"candidates": len(candidates),
		"identities": snap.Len(),
		"fetched_at": fetchedAt.Format(time.RFC3339),
	}).Info("Checking login and alias uniqueness")

	var conflicts []Conflict
	if mode == models.ModeUpdate {
		conflicts = d.checkUpdate(snap, candidates)
	} else {
		conflicts = d.checkCreate(snap, candidates)
	}

	sort.SliceStable(conflicts, func(i, j int) bool {
		if conflicts[i].Line != conflicts[j].Line {
			return conflicts[i].Line < conflicts[j].Line
		}
		if conflicts[i].Field != conflicts[j].Field {
			return conflicts[i].Field < conflicts[j].Field
		}
		return conflicts[i].Value < conflicts[j].Value
	})

	for _, c := range conflicts {
		d.logger.WithFields(logrus.Fields{
			"line":  c.Line,
			"field": c.Field,
			"value": c.Value,
		}).Error("Uniqueness conflict: " + c.With)
	}
	return len(conflicts) == 0, conflicts, nil
}

// Err wraps a conflict list into a ConflictError, nil when empty
func Err(conflicts []Conflict) error {
	if len(conflicts) == 0 {
		return nil
	}
	return &ConflictError{Conflicts: conflicts}
}

func (d *Detector) checkCreate(snap *directory.UserSnapshot, candidates []*models.CandidateUser) []Conflict {
	claims := make(map[string][]claim)
	var order []string
	add := func(value string, cl claim) {
		value = strings.ToLower(value)
		if _, ok := claims[value]; !ok {
			order = append(order, value)
		}
		claims[value] = append(claims[value], cl)
	}
	for _, c := range candidates {
		add(c.Login, claim{candidate: c, field: FieldLogin})
		for _, a := range c.Aliases {
			add(a, claim{candidate: c, field: FieldAlias})
		}
	}

	var out []Conflict
	for _, value := range order {
		out = append(out, batchConflicts(value, claims[value])...)
		for _, h := range snap.Holders(value) {
			for _, cl := range claims[value] {
				out = append(out, Conflict{
					Line:  cl.candidate.Line,
					Login: cl.candidate.Login,
					Field: cl.field,
					Value: value,
					With:  describeHolder(h),
				})
			}
		}
	}
	return out
}

func (d *Detector) checkUpdate(snap *directory.UserSnapshot, candidates []*models.CandidateUser) []Conflict {
	var out []Conflict

	targets := make(map[string][]claim)
	var targetOrder []string
	aliasClaims := make(map[string][]claim)
	var aliasOrder []string
	owner := make(map[*models.CandidateUser]*models.DirectoryUser)

	for _, c := range candidates {
		target := snap.Resolve(c.Login)
		owner[c] = target

		key := c.Login
		if target != nil {
			key = target.ID
		}
		if _, ok := targets[key]; !ok {
			targetOrder = append(targetOrder, key)
		}
		targets[key] = append(targets[key], claim{candidate: c, field: FieldLogin})

		existing := make(map[string]struct{})
		if target != nil {
			existing[strings.ToLower(target.Nickname)] = struct{}{}
			for _, a := range target.Aliases {
				existing[strings.ToLower(a)] = struct{}{}
			}
		}
		for _, a := range c.Aliases {
			a = strings.ToLower(a)
			if _, own := existing[a]; own {
				continue
			}
			if _, ok := aliasClaims[a]; !ok {
				aliasOrder = append(aliasOrder, a)
			}
			aliasClaims[a] = append(aliasClaims[a], claim{candidate: c, field: FieldAlias})
		}
	}

	for _, key := range targetOrder {
		out = append(out, batchConflicts(key, targets[key])...)
	}

	for _, alias := range aliasOrder {
		out = append(out, batchConflicts(alias, aliasClaims[alias])...)
		for _, h := range snap.Holders(alias) {
			for _, cl := range aliasClaims[alias] {
				if t := owner[cl.candidate]; t != nil && t.ID == h.User.ID {
					continue
				}
				out = append(out, Conflict{
					Line:  cl.candidate.Line,
					Login: cl.candidate.Login,
					Field: FieldAlias,
					Value: alias,
					With:  describeHolder(h),
				})
			}
		}
	}
	return out
}

// batchConflicts reports every claim of a value that more than one claim shares
func batchConflicts(value string, claims []claim) []Conflict {
	if len(claims) < 2 {
		return nil
	}
	out := make([]Conflict, 0, len(claims))
	for i, cl := range claims {
		var others []string
		for j, other := range claims {
			if i == j {
				continue
			}
			others = append(others, fmt.Sprintf("line %d %s", other.candidate.Line, other.field))
		}
		display := value
		if cl.field == FieldLogin {
			display = cl.candidate.Login
		}
		out = append(out, Conflict{
			Line:  cl.candidate.Line,
			Login: cl.candidate.Login,
			Field: cl.field,
			Value: display,
			With:  "batch rows: " + strings.Join(others, ", "),
		})
	}
	return out
}

func describeHolder(h directory.Holder) string {
	return fmt.Sprintf("existing identity %s (%s %s) %s",
		h.User.Nickname, h.User.Name.Last, h.User.Name.First, h.Field)
}
