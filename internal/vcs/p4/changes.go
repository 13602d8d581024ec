package p4

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dontnod/pergit/internal/vcs"
)

// ChangeSummary is one line of `p4 changes`.
type ChangeSummary struct {
	Number      int
	Time        time.Time
	User        string
	Description string
}

// Changes lists changelists submitted under depotPath with a number
// strictly greater than after, in ascending order.
func (c *Client) Changes(ctx context.Context, depotPath string, after int) ([]ChangeSummary, error) {
	spec := fmt.Sprintf("%s/...@%d,#head", depotPath, after+1)

	records, err := c.run(ctx, call{
		args:   []string{"changes", "-l", "-s", "submitted", spec},
		benign: []string{"no such file(s)"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list changes: %w", err)
	}

	changes := make([]ChangeSummary, 0, len(records))
	for _, r := range records {
		n := r.Int("change")
		if n <= after {
			continue
		}
		changes = append(changes, ChangeSummary{
			Number:      n,
			Time:        unixTime(r["time"]),
			User:        r["user"],
			Description: r["desc"],
		})
	}

	// p4 lists newest first
	sort.Slice(changes, func(i, j int) bool { return changes[i].Number < changes[j].Number })

	return changes, nil
}

// Describe returns a submitted changelist with the files it touched
// under depotPath. Files outside depotPath are dropped.
func (c *Client) Describe(ctx context.Context, number int, depotPath string) (vcs.Changelist, error) {
	records, err := c.run(ctx, call{args: []string{"describe", "-s", strconv.Itoa(number)}})
	if err != nil {
		return vcs.Changelist{}, fmt.Errorf("failed to describe change %d: %w", number, err)
	}
	if len(records) == 0 {
		return vcs.Changelist{}, fmt.Errorf("p4 describe %d returned no data", number)
	}

	r := records[0]
	cl := vcs.Changelist{
		Number:      r.Int("change"),
		Time:        unixTime(r["time"]),
		User:        r["user"],
		Description: r["desc"],
	}

	prefix := strings.TrimSuffix(depotPath, "/...") + "/"
	for i := 0; ; i++ {
		file, ok := r["depotFile"+strconv.Itoa(i)]
		if !ok {
			break
		}
		if !strings.HasPrefix(file, prefix) {
			continue
		}
		cl.Files = append(cl.Files, vcs.FileRevision{
			DepotPath: file,
			Action:    r["action"+strconv.Itoa(i)],
			Revision:  r.Int("rev" + strconv.Itoa(i)),
		})
	}

	return cl, nil
}

// User resolves a Perforce user name to a git identity. Results are
// cached for the lifetime of the client. Unknown users resolve to their
// login name without an email.
func (c *Client) User(ctx context.Context, name string) (vcs.Person, error) {
	c.usersMu.Lock()
	p, ok := c.users[name]
	c.usersMu.Unlock()
	if ok {
		return p, nil
	}

	records, err := c.run(ctx, call{
		args:   []string{"users", name},
		benign: []string{"no such user(s)"},
	})
	if err != nil {
		return vcs.Person{}, fmt.Errorf("failed to look up user %s: %w", name, err)
	}

	p = vcs.Person{Name: name}
	for _, r := range records {
		if r["User"] != name {
			continue
		}
		if full := r["FullName"]; full != "" {
			p.Name = full
		}
		p.Email = r["Email"]
	}

	c.usersMu.Lock()
	c.users[name] = p
	c.usersMu.Unlock()

	return p, nil
}

func unixTime(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(n, 0)
}
