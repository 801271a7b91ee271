package mq

import (
	"context"
	"log/slog"
	"sync"
)

// Publish is the inbound PUBLISH the router dispatches, after topic
// alias resolution. It is the Go stand-in for the source's Publish
// request type, carrying just enough to route and to hand to a handler.
type Publish struct {
	Topic      string
	Payload    []byte
	QoS        uint8
	Dup        bool
	Retain     bool
	PacketID   uint16
	Properties *Properties
	// TopicAlias is the v5.0 Topic Alias carried by the wire PUBLISH, if
	// any. It is tracked separately from Properties because the public
	// Properties type (properties.go) does not expose it: topic aliases
	// are connection-scoped wire bookkeeping, not a message property a
	// caller sets or reads.
	TopicAlias *uint16
}

// HandlerFactory constructs a HandlerService lazily, the first time its
// registered pattern matches a PUBLISH. Mirrors the source's
// ServiceFactory<Publish, Session<S>>.
type HandlerFactory interface {
	NewHandler(ctx context.Context) (HandlerService, error)
}

// HandlerFactoryFunc adapts a plain function to HandlerFactory.
type HandlerFactoryFunc func(ctx context.Context) (HandlerService, error)

func (f HandlerFactoryFunc) NewHandler(ctx context.Context) (HandlerService, error) { return f(ctx) }

// HandlerService is an instantiated route handler: it can report
// readiness (aggregated by the router's poll_ready-equivalent) and
// process one Publish.
type HandlerService interface {
	Ready(ctx context.Context) error
	Call(ctx context.Context, p *Publish) (PublishAck, error)
}

// Matcher is the pluggable topic-pattern collaborator described in
// SPEC_FULL's 4.3 note: register a pattern against a handler index, and
// recognize a concrete topic against the registered set. The shipped
// implementation (topicMatcher, topic.go) adapts the teacher's manual
// wildcard splitter.
type Matcher interface {
	Register(pattern string, idx int)
	Recognize(topic string) (idx int, ok bool)
}

// RouterBuilder accumulates resource registrations before Finish
// produces an immutable RouterFactory, mirroring the source's
// Router{router, handlers, default}.
type RouterBuilder struct {
	matcher  Matcher
	handlers []HandlerFactory
	def      HandlerFactory
}

// NewRouterBuilder creates a router builder with the given default
// handler factory (used for PUBLISHes matching no registered pattern)
// and topic matcher.
func NewRouterBuilder(matcher Matcher, def HandlerFactory) *RouterBuilder {
	return &RouterBuilder{matcher: matcher, def: def}
}

// Resource registers a handler factory for a topic pattern (which may
// contain `+`/`#` wildcards).
func (b *RouterBuilder) Resource(pattern string, f HandlerFactory) *RouterBuilder {
	b.matcher.Register(pattern, len(b.handlers))
	b.handlers = append(b.handlers, f)
	return b
}

// Finish produces the immutable RouterFactory.
func (b *RouterBuilder) Finish() *RouterFactory {
	handlers := make([]HandlerFactory, len(b.handlers))
	copy(handlers, b.handlers)
	return &RouterFactory{matcher: b.matcher, handlers: handlers, def: b.def}
}

// RouterFactory is the compiled, shareable router configuration; it
// produces one RouterService per connection via NewRouter.
type RouterFactory struct {
	matcher  Matcher
	handlers []HandlerFactory
	def      HandlerFactory
}

// NewRouter constructs a per-connection RouterService: the default
// handler is built eagerly (matching the source's eager default_fut),
// every resource slot starts empty and is filled lazily.
func (f *RouterFactory) NewRouter(ctx context.Context, log *slog.Logger) (*RouterService, error) {
	if log == nil {
		log = noopLogger()
	}
	def, err := f.def.NewHandler(ctx)
	if err != nil {
		return nil, err
	}
	return &RouterService{
		matcher: f.matcher,
		def:     def,
		inner: &routerInner{
			factories: f.handlers,
			handlers:  make([]HandlerService, len(f.handlers)),
			aliases:   make(map[uint16]aliasEntry),
			log:       log,
		},
	}, nil
}

// aliasEntry is the router's `topic_alias → (handler index, canonical
// topic)` record from spec 3's Router state.
type aliasEntry struct {
	idx   int
	topic string
}

// routerInner is the router's interior-mutable shared state (spec 9:
// "Inner holds handler services"). A single mutex plus a sync.Cond
// realizes the source's Cell<bool> creating flag + LocalWaker pair: see
// SPEC_FULL 5's note on the Go translation of cooperative poll_ready.
type routerInner struct {
	mu        sync.Mutex
	cond      *sync.Cond
	factories []HandlerFactory
	handlers  []HandlerService
	creating  bool
	aliases   map[uint16]aliasEntry
	log       *slog.Logger
}

func (in *routerInner) condVar() *sync.Cond {
	in.mu.Lock()
	if in.cond == nil {
		in.cond = sync.NewCond(&in.mu)
	}
	c := in.cond
	in.mu.Unlock()
	return c
}

// RouterService is the per-connection, callable router: a service
// accepting Publish and yielding PublishAck, per spec 4.3's public
// contract.
type RouterService struct {
	matcher Matcher
	def     HandlerService
	inner   *routerInner
}

// Ready aggregates readiness across every instantiated handler and the
// default, per spec 4.3's poll_ready algorithm: while a handler is
// under construction, Ready blocks (not merely returns false) so the
// caller never dispatches into a mid-creation slot. ctx cancellation
// unblocks the wait.
func (r *RouterService) Ready(ctx context.Context) error {
	cond := r.inner.condVar()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			cond.Broadcast()
		case <-done:
		}
	}()

	r.inner.mu.Lock()
	for r.inner.creating {
		if ctx.Err() != nil {
			r.inner.mu.Unlock()
			return ctx.Err()
		}
		cond.Wait()
	}
	handlers := make([]HandlerService, len(r.inner.handlers))
	copy(handlers, r.inner.handlers)
	r.inner.mu.Unlock()

	for _, h := range handlers {
		if h == nil {
			continue
		}
		if err := h.Ready(ctx); err != nil {
			return err
		}
	}
	return r.def.Ready(ctx)
}

// Call routes p per spec 4.3's routing rules: non-empty topic → pattern
// match (recording the alias if present); empty topic with a topic
// alias → cache lookup; otherwise the default handler.
func (r *RouterService) Call(ctx context.Context, p *Publish) (PublishAck, error) {
	if p.Topic != "" {
		if idx, ok := r.matcher.Recognize(p.Topic); ok {
			if p.TopicAlias != nil {
				r.inner.mu.Lock()
				r.inner.aliases[*p.TopicAlias] = aliasEntry{idx: idx, topic: p.Topic}
				r.inner.mu.Unlock()
			}
			return r.dispatch(ctx, idx, p)
		}
	} else if p.TopicAlias != nil {
		alias := *p.TopicAlias
		r.inner.mu.Lock()
		entry, ok := r.inner.aliases[alias]
		r.inner.mu.Unlock()
		if ok {
			p.Topic = entry.topic
			return r.dispatch(ctx, entry.idx, p)
		}
		r.inner.log.Error("unknown topic alias", "alias", alias)
	}
	return r.def.Call(ctx, p)
}

// dispatch calls the already-or-not-yet-instantiated handler at idx.
func (r *RouterService) dispatch(ctx context.Context, idx int, p *Publish) (PublishAck, error) {
	r.inner.mu.Lock()
	h := r.inner.handlers[idx]
	r.inner.mu.Unlock()
	if h != nil {
		return h.Call(ctx, p)
	}
	return r.createHandler(ctx, idx, p)
}

// createHandler implements spec 4.3's lazy-instantiation algorithm:
// mark creating, construct+ready the handler, wake parked Ready
// callers, store it, then call it.
func (r *RouterService) createHandler(ctx context.Context, idx int, p *Publish) (PublishAck, error) {
	cond := r.inner.condVar()

	r.inner.mu.Lock()
	r.inner.creating = true
	factory := r.inner.factories[idx]
	r.inner.mu.Unlock()

	h, err := factory.NewHandler(ctx)
	if err == nil {
		err = h.Ready(ctx)
	}

	r.inner.mu.Lock()
	r.inner.creating = false
	if err == nil {
		r.inner.handlers[idx] = h
	}
	r.inner.mu.Unlock()
	cond.Broadcast()

	if err != nil {
		return PublishAck{}, err
	}
	return h.Call(ctx, p)
}
