// Package orchestrator wires the Critical-Section Engine, Packager
// Registry, Assembler, Transport, and status interpreter together into the
// event-driven processors spec.md §4 names: SubmissionProcessor,
// DepositProcessor, SubmissionAggregator, DepositStatusRefresher, the
// Retry/Refresh one-shot drivers, and the central error handler.
package orchestrator

import (
	"fmt"
	"sync"

	"github.com/passrepo/depositorch/internal/assembler"
	"github.com/passrepo/depositorch/internal/registry"
	"github.com/passrepo/depositorch/internal/statusproc"
	"github.com/passrepo/depositorch/internal/transport"
)

// Packager is the resolved {Assembler, Transport, statusProcessor} tuple for
// one target, plus its configuration (spec.md §4.3).
type Packager struct {
	Config          registry.TargetConfig
	Assembler       assembler.Assembler
	Transport       transport.Transport
	StatusProcessor statusproc.Processor
}

// ResolvePackager builds a Packager from a registry entry, constructing the
// Transport and status-processor bindings the entry's protocol/processor
// name select. The Assembler is shared (it is stateless) across all targets.
func ResolvePackager(cfg registry.TargetConfig, shared assembler.Assembler) (*Packager, error) {
	tr, err := transport.New(cfg.Transport.Protocol)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: resolve transport for %q: %w", cfg.Key, err)
	}
	sp, err := statusproc.New(cfg.StatusProcessor)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: resolve status processor for %q: %w", cfg.Key, err)
	}
	return &Packager{Config: cfg, Assembler: shared, Transport: tr, StatusProcessor: sp}, nil
}

// AssemblerOptions derives assembler.Options from the packager's configured
// target (spec.md §4.3 AssemblerConfig).
func (p *Packager) AssemblerOptions() assembler.Options {
	return assembler.Options{
		Archive:  p.Config.Assembler.Archive,
		Compress: p.Config.Assembler.Compress,
		Checksum: p.Config.Assembler.Checksum,
		SpecID:   p.Config.Assembler.SpecID,
	}
}

// PackagerSource resolves a target repository reference to its Packager,
// returning ok=false on a registry miss (spec.md §4.2: "no Packager → mark
// that target's Deposit FAILED").
type PackagerSource interface {
	Resolve(targetRef string) (*Packager, bool)
}

// registryPackagerSource adapts a *registry.Registry plus a shared
// Assembler into a PackagerSource, caching resolved Packagers per target key
// since Transport/status-processor construction is cheap but need not be
// repeated per lookup.
type registryPackagerSource struct {
	reg    *registry.Registry
	shared assembler.Assembler

	mu       sync.Mutex
	resolved map[string]*Packager
}

// NewPackagerSource builds a PackagerSource backed by reg.
func NewPackagerSource(reg *registry.Registry, shared assembler.Assembler) PackagerSource {
	return &registryPackagerSource{reg: reg, shared: shared, resolved: make(map[string]*Packager)}
}

func (s *registryPackagerSource) Resolve(targetRef string) (*Packager, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.resolved[targetRef]; ok {
		return p, true
	}
	cfg, ok := s.reg.Lookup(targetRef)
	if !ok {
		return nil, false
	}
	p, err := ResolvePackager(cfg, s.shared)
	if err != nil {
		return nil, false
	}
	s.resolved[targetRef] = p
	return p, true
}
