package config

import (
	"sync"

	"PPNotify/logger"
	"PPNotify/tools/errs"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"go.uber.org/zap"
)

// ConfigClient is the part of the nacos config client the watcher needs.
type ConfigClient interface {
	GetConfig(param vo.ConfigParam) (string, error)
	ListenConfig(param vo.ConfigParam) error
	CancelListenConfig(param vo.ConfigParam) error
}

func NewNacosClient(c NacosConfig) (ConfigClient, error) {
	cc := constant.NewClientConfig(
		constant.WithNamespaceId(c.Namespace),
		constant.WithTimeoutMs(c.TimeoutMs),
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogLevel("warn"),
		constant.WithCacheDir("nacos/cache"),
		constant.WithLogDir("nacos/log"),
	)
	client, err := clients.NewConfigClient(vo.NacosClientParam{
		ClientConfig:  cc,
		ServerConfigs: []constant.ServerConfig{*constant.NewServerConfig(c.Host, c.Port)},
	})
	if err != nil {
		return nil, errs.WrapMsg(err, "create nacos config client", "host", c.Host)
	}
	return client, nil
}

// Watcher keeps the config merged with the remote nacos content and calls
// onChange after every accepted update. Rejected updates keep the previous
// config.
type Watcher struct {
	client   ConfigClient
	param    vo.ConfigParam
	onChange func(old, cur AppConfig)

	mu   sync.RWMutex
	base AppConfig
	cur  AppConfig
	once sync.Once
}

func NewWatcher(client ConfigClient, base AppConfig, onChange func(old, cur AppConfig)) *Watcher {
	return &Watcher{
		client:   client,
		param:    vo.ConfigParam{DataId: base.Nacos.DataID, Group: base.Nacos.Group},
		onChange: onChange,
		base:     base,
		cur:      base,
	}
}

// Start fetches the current remote content and subscribes to changes.
func (w *Watcher) Start() error {
	content, err := w.client.GetConfig(w.param)
	if err != nil {
		return errs.WrapMsg(err, "nacos get config", "dataId", w.param.DataId)
	}
	if content != "" {
		if err := w.apply(content); err != nil {
			return err
		}
	}

	// 开始监听
	param := w.param
	param.OnChange = func(namespace, group, dataId, data string) {
		if err := w.apply(data); err != nil {
			logger.Warn("nacos config rejected", zap.String("dataId", dataId), zap.Error(err))
		}
	}
	if err := w.client.ListenConfig(param); err != nil {
		return errs.WrapMsg(err, "nacos listen config", "dataId", w.param.DataId)
	}
	return nil
}

func (w *Watcher) Current() AppConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur
}

func (w *Watcher) Stop() {
	w.once.Do(func() {
		if err := w.client.CancelListenConfig(w.param); err != nil {
			logger.Warn("nacos cancel listen failed", zap.Error(err))
		}
	})
}

// apply merges data over the base config, so keys removed remotely fall back
// to the local value.
func (w *Watcher) apply(data string) error {
	next, err := Merge(w.base, []byte(data))
	if err != nil {
		return err
	}
	w.mu.Lock()
	old := w.cur
	w.cur = next
	w.mu.Unlock()
	if w.onChange != nil {
		w.onChange(old, next)
	}
	return nil
}
