package placement

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	dErrors "onboarder/pkg/domain-errors"
	"onboarder/pkg/platform/strategy"
)

// ErrNoController means every discovery strategy came up empty: there is no
// managed Windows host that can run the provisioning script.
var ErrNoController = dErrors.New(dErrors.CodeNotFound, "no managed controller host found for domain")

// Inventory is the compute-inventory surface controller discovery needs.
// Implementations sit over whatever cloud or CMDB API the deployment uses.
type Inventory interface {
	// InstanceExists reports whether id names a known, running host.
	InstanceExists(ctx context.Context, id string) (bool, error)
	// RunningByTags returns running host IDs carrying every given tag value.
	RunningByTags(ctx context.Context, tags map[string]string) ([]string, error)
	// RunningByNamePattern returns running host IDs whose name matches the
	// glob pattern.
	RunningByNamePattern(ctx context.Context, pattern string) ([]string, error)
	// Managed reports whether the remote-execution agent on the host is
	// online and registered.
	Managed(ctx context.Context, id string) (bool, error)
	// ManagedWindowsHosts returns all managed hosts running Windows.
	ManagedWindowsHosts(ctx context.Context) ([]string, error)
}

// HostResolver discovers the controller host for a domain by trying
// progressively looser strategies.
type HostResolver struct {
	inventory Inventory
	logger    *slog.Logger
}

func NewHostResolver(inventory Inventory, logger *slog.Logger) (*HostResolver, error) {
	if inventory == nil {
		return nil, fmt.Errorf("inventory is nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}
	return &HostResolver{inventory: inventory, logger: logger}, nil
}

// ResolveController returns the host ID to execute directory scripts on.
// The hint from the placement rule is tried first; each later strategy only
// returns hosts the execution agent can actually reach.
func (r *HostResolver) ResolveController(ctx context.Context, domain, hint string) (string, error) {
	strategies := []strategy.Strategy[string]{
		{Name: "rule_hint", Run: func(ctx context.Context) (string, bool, error) {
			return r.verifyHint(ctx, hint)
		}},
		{Name: "controller_tags", Run: func(ctx context.Context) (string, bool, error) {
			return r.byControllerTags(ctx, domain)
		}},
		{Name: "name_patterns", Run: func(ctx context.Context) (string, bool, error) {
			return r.byNamePatterns(ctx, domain)
		}},
		{Name: "any_managed_windows", Run: func(ctx context.Context) (string, bool, error) {
			return r.anyManagedWindows(ctx)
		}},
	}
	return strategy.Chain(ctx, r.logger.With("domain", domain), strategies, ErrNoController)
}

func (r *HostResolver) verifyHint(ctx context.Context, hint string) (string, bool, error) {
	if !strings.HasPrefix(hint, "i-") {
		return "", false, nil
	}
	ok, err := r.inventory.InstanceExists(ctx, hint)
	if err != nil {
		return "", false, err
	}
	return hint, ok, nil
}

func (r *HostResolver) byControllerTags(ctx context.Context, domain string) (string, bool, error) {
	if domain == "" {
		return "", false, nil
	}
	ids, err := r.inventory.RunningByTags(ctx, map[string]string{
		"Domain": domain,
		"Role":   "DomainController",
	})
	if err != nil {
		return "", false, err
	}
	return r.firstManaged(ctx, ids)
}

func (r *HostResolver) byNamePatterns(ctx context.Context, domain string) (string, bool, error) {
	prefix, _, _ := strings.Cut(domain, ".")
	patterns := []string{
		"*" + prefix + "*dc*",
		"*dc*" + prefix + "*",
		"*DC*",
		"*domain*controller*",
	}
	for _, pattern := range patterns {
		ids, err := r.inventory.RunningByNamePattern(ctx, pattern)
		if err != nil {
			return "", false, err
		}
		if id, ok, err := r.firstManaged(ctx, ids); err != nil || ok {
			return id, ok, err
		}
	}
	return "", false, nil
}

func (r *HostResolver) anyManagedWindows(ctx context.Context) (string, bool, error) {
	ids, err := r.inventory.ManagedWindowsHosts(ctx)
	if err != nil {
		return "", false, err
	}
	if len(ids) == 0 {
		return "", false, nil
	}
	return ids[0], true, nil
}

// firstManaged keeps discovery order deterministic: the first host the
// inventory listed that the agent can reach wins.
func (r *HostResolver) firstManaged(ctx context.Context, ids []string) (string, bool, error) {
	for _, id := range ids {
		ok, err := r.inventory.Managed(ctx, id)
		if err != nil {
			return "", false, err
		}
		if ok {
			return id, true, nil
		}
		r.logger.Debug("host not managed, skipping", "host_id", id)
	}
	return "", false, nil
}
