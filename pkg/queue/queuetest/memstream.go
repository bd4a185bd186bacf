// Package queuetest provides an in-memory Redis stream with consumer-group semantics
// for tests of code built on pkg/queue.
package queuetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type pendingEntry struct {
	consumer    string
	deliveredAt time.Time
	deliveries  int
}

type group struct {
	lastDelivered uint64
	pending       map[uint64]*pendingEntry
}

type stream struct {
	entries []redis.XMessage
	seqs    []uint64
	groups  map[string]*group
}

// MemStream implements the queue.StreamClient, queue.KV and queue.Broker method sets in memory.
// Entry ids are "<n>-0" with n increasing from 1. Blocking reads never wait.
type MemStream struct {
	mu      sync.Mutex
	streams map[string]*stream
	kv      map[string]string
	seq     uint64
	now     time.Time

	appendErr error
	readErr   error
	ackErr    error
	setErr    error
	healthErr error
}

func New() *MemStream {
	return &MemStream{
		streams: make(map[string]*stream),
		kv:      make(map[string]string),
		now:     time.Unix(1_700_000_000, 0),
	}
}

// Advance moves the clock used for idle times.
func (m *MemStream) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// FailAppends makes XAdd return err until called again with nil.
func (m *MemStream) FailAppends(err error) { m.mu.Lock(); m.appendErr = err; m.mu.Unlock() }

// FailReads makes XReadGroup return err until called again with nil.
func (m *MemStream) FailReads(err error) { m.mu.Lock(); m.readErr = err; m.mu.Unlock() }

// FailAcks makes XAck return err until called again with nil.
func (m *MemStream) FailAcks(err error) { m.mu.Lock(); m.ackErr = err; m.mu.Unlock() }

// FailSets makes Set return err until called again with nil.
func (m *MemStream) FailSets(err error) { m.mu.Lock(); m.setErr = err; m.mu.Unlock() }

// FailHealth makes Health return err until called again with nil.
func (m *MemStream) FailHealth(err error) { m.mu.Lock(); m.healthErr = err; m.mu.Unlock() }

func (m *MemStream) stream(name string) *stream {
	s, ok := m.streams[name]
	if !ok {
		s = &stream{groups: make(map[string]*group)}
		m.streams[name] = s
	}
	return s
}

func (m *MemStream) XAdd(_ context.Context, name string, values map[string]interface{}) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return "", m.appendErr
	}
	m.seq++
	id := formatID(m.seq)
	copied := make(map[string]interface{}, len(values))
	for k, v := range values {
		copied[k] = v
	}
	s := m.stream(name)
	s.entries = append(s.entries, redis.XMessage{ID: id, Values: copied})
	s.seqs = append(s.seqs, m.seq)
	return id, nil
}

func (m *MemStream) XGroupCreateMkStream(_ context.Context, name, groupName, start string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stream(name)
	if _, ok := s.groups[groupName]; ok {
		return errors.New("BUSYGROUP Consumer Group name already exists")
	}
	g := &group{pending: make(map[uint64]*pendingEntry)}
	if start == "$" && len(s.seqs) > 0 {
		g.lastDelivered = s.seqs[len(s.seqs)-1]
	}
	s.groups[groupName] = g
	return nil
}

func (m *MemStream) XReadGroup(_ context.Context, groupName, consumer, name, id string, count int64, _ time.Duration) ([]redis.XMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	s, g, err := m.group(name, groupName)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		count = int64(len(s.entries) + len(g.pending))
	}

	var out []redis.XMessage
	if id == ">" {
		for i, seq := range s.seqs {
			if int64(len(out)) >= count {
				break
			}
			if seq <= g.lastDelivered {
				continue
			}
			g.lastDelivered = seq
			g.pending[seq] = &pendingEntry{consumer: consumer, deliveredAt: m.now, deliveries: 1}
			out = append(out, s.entries[i])
		}
		return out, nil
	}

	after, err := parseID(id)
	if err != nil {
		return nil, err
	}
	for _, seq := range sortedPending(g) {
		if int64(len(out)) >= count {
			break
		}
		p := g.pending[seq]
		if seq <= after || p.consumer != consumer {
			continue
		}
		p.deliveries++
		p.deliveredAt = m.now
		msg, ok := s.lookup(seq)
		if !ok {
			msg = redis.XMessage{ID: formatID(seq)}
		}
		out = append(out, msg)
	}
	return out, nil
}

func (m *MemStream) XAck(_ context.Context, name, groupName string, ids ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ackErr != nil {
		return 0, m.ackErr
	}
	_, g, err := m.group(name, groupName)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, id := range ids {
		seq, err := parseID(id)
		if err != nil {
			return n, err
		}
		if _, ok := g.pending[seq]; ok {
			delete(g.pending, seq)
			n++
		}
	}
	return n, nil
}

func (m *MemStream) XPending(_ context.Context, name, groupName string) (*redis.XPending, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, g, err := m.group(name, groupName)
	if err != nil {
		return nil, err
	}
	out := &redis.XPending{Count: int64(len(g.pending)), Consumers: make(map[string]int64)}
	seqs := sortedPending(g)
	if len(seqs) > 0 {
		out.Lower = formatID(seqs[0])
		out.Higher = formatID(seqs[len(seqs)-1])
	}
	for _, p := range g.pending {
		out.Consumers[p.consumer]++
	}
	return out, nil
}

func (m *MemStream) XAutoClaim(_ context.Context, name, groupName, consumer string, minIdle time.Duration, start string, count int64) ([]redis.XMessage, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, g, err := m.group(name, groupName)
	if err != nil {
		return nil, "", err
	}
	from, err := parseID(start)
	if err != nil {
		return nil, "", err
	}

	var out []redis.XMessage
	for _, seq := range sortedPending(g) {
		if seq < from {
			continue
		}
		if int64(len(out)) >= count {
			return out, formatID(seq), nil
		}
		p := g.pending[seq]
		if m.now.Sub(p.deliveredAt) < minIdle {
			continue
		}
		p.consumer = consumer
		p.deliveredAt = m.now
		p.deliveries++
		if msg, ok := s.lookup(seq); ok {
			out = append(out, msg)
		}
	}
	return out, "0-0", nil
}

func (m *MemStream) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.kv[key] = value
	return nil
}

func (m *MemStream) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.kv[key]
	return v, ok, nil
}

func (m *MemStream) Health(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthErr
}

func (m *MemStream) XLen(_ context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.stream(name).entries)), nil
}

// Len returns the number of entries in the stream.
func (m *MemStream) Len(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stream(name).entries)
}

// Entries returns a copy of the stream's entries.
func (m *MemStream) Entries(name string) []redis.XMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]redis.XMessage(nil), m.stream(name).entries...)
}

// Pending returns the ids in the group's pending list, oldest first.
func (m *MemStream) Pending(name, groupName string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, g, err := m.group(name, groupName)
	if err != nil {
		return nil
	}
	var ids []string
	for _, seq := range sortedPending(g) {
		ids = append(ids, formatID(seq))
	}
	return ids
}

// Owner returns the consumer currently holding a pending entry.
func (m *MemStream) Owner(name, groupName, id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, g, err := m.group(name, groupName)
	if err != nil {
		return ""
	}
	seq, err := parseID(id)
	if err != nil {
		return ""
	}
	if p, ok := g.pending[seq]; ok {
		return p.consumer
	}
	return ""
}

// Deliveries returns how many times a pending entry has been delivered.
func (m *MemStream) Deliveries(name, groupName, id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, g, err := m.group(name, groupName)
	if err != nil {
		return 0
	}
	seq, err := parseID(id)
	if err != nil {
		return 0
	}
	if p, ok := g.pending[seq]; ok {
		return p.deliveries
	}
	return 0
}

func (m *MemStream) group(name, groupName string) (*stream, *group, error) {
	s, ok := m.streams[name]
	if !ok {
		return nil, nil, fmt.Errorf("NOGROUP No such key '%s' or consumer group '%s'", name, groupName)
	}
	g, ok := s.groups[groupName]
	if !ok {
		return nil, nil, fmt.Errorf("NOGROUP No such key '%s' or consumer group '%s'", name, groupName)
	}
	return s, g, nil
}

func (s *stream) lookup(seq uint64) (redis.XMessage, bool) {
	i := sort.Search(len(s.seqs), func(i int) bool { return s.seqs[i] >= seq })
	if i < len(s.seqs) && s.seqs[i] == seq {
		return s.entries[i], true
	}
	return redis.XMessage{}, false
}

func sortedPending(g *group) []uint64 {
	seqs := make([]uint64, 0, len(g.pending))
	for seq := range g.pending {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs
}

func formatID(seq uint64) string {
	return strconv.FormatUint(seq, 10) + "-0"
}

// parseID accepts "<n>-<m>" and bare "<n>"; only n is significant here.
func parseID(id string) (uint64, error) {
	ms, _, _ := strings.Cut(id, "-")
	n, err := strconv.ParseUint(ms, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("ERR Invalid stream ID specified as stream command argument: %q", id)
	}
	return n, nil
}
