package placement

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onboarder/internal/employee"
)

const mappingDoc = `
rules:
  - conditions:
      departments: [engineering, platform]
    ou: OU=Engineering,DC=corp,DC=example,DC=com
    domain: corp.example.com
  - conditions:
      locations: [manchester]
    ou: OU=North,DC=north,DC=example,DC=com
    domain: north.example.com
    netbios_domain: northwin
    dc_host: i-0abc123
  - conditions:
      keywords: [contractor]
    ou: OU=Contractors,DC=corp,DC=example,DC=com
    domain: corp.example.com
default:
  ou: OU=Staff,DC=corp,DC=example,DC=com
  domain: corp.example.com
`

func mustMapping(t *testing.T) *Mapping {
	t.Helper()
	m, err := ParseMapping([]byte(mappingDoc))
	require.NoError(t, err)
	return m
}

func TestParseMapping(t *testing.T) {
	t.Run("valid document", func(t *testing.T) {
		m := mustMapping(t)
		assert.Len(t, m.Rules, 3)
		require.NotNil(t, m.Default)
	})

	t.Run("rule without domain rejected", func(t *testing.T) {
		_, err := ParseMapping([]byte("rules:\n  - ou: OU=X\n"))
		assert.ErrorContains(t, err, "no domain")
	})

	t.Run("json document parses too", func(t *testing.T) {
		m, err := ParseMapping([]byte(`{"rules":[{"ou":"OU=X","domain":"d.example.com"}]}`))
		require.NoError(t, err)
		assert.Len(t, m.Rules, 1)
	})
}

func TestResolve(t *testing.T) {
	m := mustMapping(t)

	t.Run("department match is case-insensitive substring", func(t *testing.T) {
		d, err := Resolve(m, &employee.Record{Department: "Platform Engineering - SRE"})
		require.NoError(t, err)
		assert.Equal(t, "corp.example.com", d.Domain)
		assert.Equal(t, "OU=Engineering,DC=corp,DC=example,DC=com", d.OU)
	})

	t.Run("location match carries netbios and host hint", func(t *testing.T) {
		d, err := Resolve(m, &employee.Record{Department: "Sales", WorkLocation: "Manchester Office"})
		require.NoError(t, err)
		assert.Equal(t, "north.example.com", d.Domain)
		assert.Equal(t, "NORTHWIN", d.NetBIOSDomain)
		assert.Equal(t, "i-0abc123", d.ControllerHint)
	})

	t.Run("keyword matches full name", func(t *testing.T) {
		d, err := Resolve(m, &employee.Record{Department: "Finance", FullName: "Jane Contractor"})
		require.NoError(t, err)
		assert.Equal(t, "OU=Contractors,DC=corp,DC=example,DC=com", d.OU)
	})

	t.Run("keyword matches company", func(t *testing.T) {
		d, err := Resolve(m, &employee.Record{Department: "Finance", Company: "Contractor Partners Ltd"})
		require.NoError(t, err)
		assert.Equal(t, "OU=Contractors,DC=corp,DC=example,DC=com", d.OU)
	})

	t.Run("job title alone does not drive keywords", func(t *testing.T) {
		d, err := Resolve(m, &employee.Record{Department: "Finance", JobTitle: "Contractor - AP"})
		require.NoError(t, err)
		assert.Equal(t, "OU=Staff,DC=corp,DC=example,DC=com", d.OU)
	})

	t.Run("first matching rule wins", func(t *testing.T) {
		// Matches both the engineering rule and the manchester rule.
		d, err := Resolve(m, &employee.Record{Department: "Engineering", WorkLocation: "Manchester"})
		require.NoError(t, err)
		assert.Equal(t, "corp.example.com", d.Domain)
	})

	t.Run("no match falls to default with derived netbios", func(t *testing.T) {
		d, err := Resolve(m, &employee.Record{Department: "HR"})
		require.NoError(t, err)
		assert.Equal(t, "OU=Staff,DC=corp,DC=example,DC=com", d.OU)
		assert.Equal(t, "CORP", d.NetBIOSDomain)
	})

	t.Run("same input always resolves identically", func(t *testing.T) {
		rec := &employee.Record{Department: "Engineering"}
		first, err := Resolve(m, rec)
		require.NoError(t, err)
		for range 5 {
			again, err := Resolve(m, rec)
			require.NoError(t, err)
			assert.Equal(t, first, again)
		}
	})

	t.Run("no default means no placement", func(t *testing.T) {
		bare := &Mapping{Rules: m.Rules}
		_, err := Resolve(bare, &employee.Record{Department: "HR"})
		assert.ErrorIs(t, err, ErrNoPlacement)
	})
}

type fakeInventory struct {
	instances map[string]bool
	byTags    map[string][]string
	byPattern map[string][]string
	managed   map[string]bool
	windows   []string
}

func (f *fakeInventory) InstanceExists(_ context.Context, id string) (bool, error) {
	return f.instances[id], nil
}

func (f *fakeInventory) RunningByTags(_ context.Context, tags map[string]string) ([]string, error) {
	return f.byTags[tags["Domain"]], nil
}

func (f *fakeInventory) RunningByNamePattern(_ context.Context, pattern string) ([]string, error) {
	return f.byPattern[pattern], nil
}

func (f *fakeInventory) Managed(_ context.Context, id string) (bool, error) {
	return f.managed[id], nil
}

func (f *fakeInventory) ManagedWindowsHosts(_ context.Context) ([]string, error) {
	return f.windows, nil
}

func TestResolveController(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	t.Run("valid hint short-circuits discovery", func(t *testing.T) {
		inv := &fakeInventory{instances: map[string]bool{"i-0abc123": true}}
		r, err := NewHostResolver(inv, logger)
		require.NoError(t, err)

		host, err := r.ResolveController(ctx, "north.example.com", "i-0abc123")
		require.NoError(t, err)
		assert.Equal(t, "i-0abc123", host)
	})

	t.Run("stale hint falls through to tags", func(t *testing.T) {
		inv := &fakeInventory{
			byTags:  map[string][]string{"corp.example.com": {"i-dead", "i-live"}},
			managed: map[string]bool{"i-live": true},
		}
		r, err := NewHostResolver(inv, logger)
		require.NoError(t, err)

		host, err := r.ResolveController(ctx, "corp.example.com", "i-gone")
		require.NoError(t, err)
		assert.Equal(t, "i-live", host)
	})

	t.Run("name pattern fallback skips unmanaged hosts", func(t *testing.T) {
		inv := &fakeInventory{
			byPattern: map[string][]string{"*corp*dc*": {"i-unmanaged", "i-dc2"}},
			managed:   map[string]bool{"i-dc2": true},
		}
		r, err := NewHostResolver(inv, logger)
		require.NoError(t, err)

		host, err := r.ResolveController(ctx, "corp.example.com", "")
		require.NoError(t, err)
		assert.Equal(t, "i-dc2", host)
	})

	t.Run("last resort is any managed windows host", func(t *testing.T) {
		inv := &fakeInventory{windows: []string{"i-win1", "i-win2"}}
		r, err := NewHostResolver(inv, logger)
		require.NoError(t, err)

		host, err := r.ResolveController(ctx, "corp.example.com", "")
		require.NoError(t, err)
		assert.Equal(t, "i-win1", host)
	})

	t.Run("nothing managed anywhere", func(t *testing.T) {
		r, err := NewHostResolver(&fakeInventory{}, logger)
		require.NoError(t, err)

		_, err = r.ResolveController(ctx, "corp.example.com", "")
		assert.ErrorIs(t, err, ErrNoController)
	})
}
