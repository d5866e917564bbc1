package auditcore

import (
	"fmt"

	"github.com/zero-day-ai/auditcore/config"
	"github.com/zero-day-ai/auditcore/dedup"
	"github.com/zero-day-ai/auditcore/queue"
	"github.com/zero-day-ai/auditcore/worker"
)

// BuildRegistry registers the workers declared in cfg. Workers sharing a
// pass and protocol receive indices in declaration order. client may be
// nil when no queue worker is declared.
func BuildRegistry(cfg *config.Config, client queue.Client) (*worker.Registry, error) {
	reg := worker.NewRegistry()
	for i := range cfg.Workers {
		wc := &cfg.Workers[i]
		w, err := buildWorker(cfg, wc, client)
		if err != nil {
			return nil, fmt.Errorf("worker %s: %w", wc.Name, err)
		}
		reg.Register(wc.Protocol, wc.Pass, w)
	}
	return reg, nil
}

func buildWorker(cfg *config.Config, wc *config.WorkerConfig, client queue.Client) (worker.Worker, error) {
	switch wc.Transport() {
	case "command":
		return &worker.CommandWorker{
			WorkerName: wc.Name,
			Command:    wc.Command[0],
			Args:       wc.Command[1:],
			WorkDir:    cfg.Resolve(wc.WorkDir),
			Env:        wc.EnvList(),
			Timeout:    wc.GetTimeout(),
		}, nil
	case "queue":
		if client == nil {
			return nil, fmt.Errorf("queue %s needs a queue connection", wc.Queue)
		}
		return worker.NewQueueWorker(wc.Queue, client), nil
	case "output":
		return worker.LoadStatic(wc.Name, cfg.Resolve(wc.Output))
	default:
		return nil, fmt.Errorf("%w: no transport", ErrInvalidConfig)
	}
}

func needsQueue(cfg *config.Config) bool {
	for i := range cfg.Workers {
		if cfg.Workers[i].Transport() == "queue" {
			return true
		}
	}
	return false
}

// OpenEtcdIndex connects to the etcd known-findings index declared in cfg.
// TLS paths resolve against the config file. It returns nil when no etcd
// index is configured.
func OpenEtcdIndex(cfg *config.Config) (*dedup.EtcdIndex, error) {
	if cfg.KnownIndex == nil || cfg.KnownIndex.Etcd == nil {
		return nil, nil
	}
	e := cfg.KnownIndex.Etcd
	ec := dedup.EtcdConfig{
		Endpoints:   e.Endpoints,
		Namespace:   e.Namespace,
		DialTimeout: e.GetDialTimeout(),
		Username:    e.Username,
		Password:    e.Password,
	}
	if t := e.TLS; t != nil {
		ec.TLS = &dedup.TLSConfig{
			CertFile: cfg.Resolve(t.CertFile),
			KeyFile:  cfg.Resolve(t.KeyFile),
			CAFile:   cfg.Resolve(t.CAFile),
		}
	}
	return dedup.NewEtcdIndex(ec)
}
