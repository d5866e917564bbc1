package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// DefaultNamespace prefixes every etcd key written by the index.
const DefaultNamespace = "audit"

// EtcdConfig configures an etcd-backed index.
type EtcdConfig struct {
	Endpoints   []string      `yaml:"endpoints"`
	Namespace   string        `yaml:"namespace"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`

	// TLS enables mutual TLS. Nil means plaintext.
	TLS *TLSConfig `yaml:"tls"`
}

// EtcdIndex looks known findings up under <namespace>/known/<fingerprint>.
// Values are CanonicalFinding JSON.
type EtcdIndex struct {
	kv        clientv3.KV
	client    *clientv3.Client
	namespace string
}

// NewEtcdIndex connects to etcd.
func NewEtcdIndex(cfg EtcdConfig) (*EtcdIndex, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints cannot be empty")
	}
	dial := cfg.DialTimeout
	if dial <= 0 {
		dial = 5 * time.Second
	}
	tlsCfg, err := cfg.TLS.ClientConfig()
	if err != nil {
		return nil, err
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: dial,
		Username:    cfg.Username,
		Password:    cfg.Password,
		TLS:         tlsCfg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}
	idx := NewEtcdIndexFromKV(cli, cfg.Namespace)
	idx.client = cli
	return idx, nil
}

// NewEtcdIndexFromKV wraps an existing KV, such as a shared client or a
// namespaced view of one.
func NewEtcdIndexFromKV(kv clientv3.KV, namespace string) *EtcdIndex {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &EtcdIndex{kv: kv, namespace: strings.TrimSuffix(namespace, "/")}
}

func (e *EtcdIndex) key(fingerprint string) string {
	return fmt.Sprintf("%s/known/%s", e.namespace, fingerprint)
}

// Lookup implements KnownFindingsIndex.
func (e *EtcdIndex) Lookup(ctx context.Context, fingerprint string) (*CanonicalFinding, error) {
	resp, err := e.kv.Get(ctx, e.key(fingerprint))
	if err != nil {
		return nil, fmt.Errorf("failed to get known finding %s: %w", fingerprint, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	var cf CanonicalFinding
	if err := json.Unmarshal(resp.Kvs[0].Value, &cf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal known finding %s: %w", fingerprint, err)
	}
	if cf.Fingerprint == "" {
		cf.Fingerprint = fingerprint
	}
	return &cf, nil
}

// Publish implements Publisher. Lookup stays read-only; publishing is a
// separate step run after a report is accepted.
func (e *EtcdIndex) Publish(ctx context.Context, findings ...CanonicalFinding) (int, error) {
	var n int
	for _, cf := range findings {
		cf, err := resolveFingerprint(cf)
		if err != nil {
			return n, err
		}
		existing, err := e.kv.Get(ctx, e.key(cf.Fingerprint))
		if err != nil {
			return n, fmt.Errorf("failed to get known finding %s: %w", cf.Fingerprint, err)
		}
		if len(existing.Kvs) > 0 {
			continue
		}
		data, err := json.Marshal(cf)
		if err != nil {
			return n, fmt.Errorf("failed to marshal known finding: %w", err)
		}
		if _, err := e.kv.Put(ctx, e.key(cf.Fingerprint), string(data)); err != nil {
			return n, fmt.Errorf("failed to put known finding %s: %w", cf.ID, err)
		}
		n++
	}
	return n, nil
}

// List returns every published finding sorted by fingerprint.
func (e *EtcdIndex) List(ctx context.Context) ([]CanonicalFinding, error) {
	prefix := e.namespace + "/known/"
	resp, err := e.kv.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list known findings: %w", err)
	}
	out := make([]CanonicalFinding, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var cf CanonicalFinding
		if err := json.Unmarshal(kv.Value, &cf); err != nil {
			continue
		}
		if cf.Fingerprint == "" {
			cf.Fingerprint = strings.TrimPrefix(string(kv.Key), prefix)
		}
		out = append(out, cf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	return out, nil
}

// Close releases the etcd connection when the index owns it.
func (e *EtcdIndex) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}
