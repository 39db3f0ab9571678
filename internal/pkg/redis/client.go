// internal/pkg/redis/client.go
package redis

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Client 封装了 go-redis 客户端和一个按名字管理的 Lua 脚本注册表。
// 业务方在初始化时加载脚本，运行时用脚本名执行，
// EVALSHA 失败（比如 Redis 重启导致脚本缓存丢失）时自动回退到 EVAL。
type Client struct {
	client redis.UniversalClient

	mu      sync.RWMutex
	scripts map[string]*redis.Script
}

// NewClient 创建一个 Redis 客户端。
// addrs 为逗号分隔的地址列表，单个地址时走单机模式，多个地址走集群模式。
func NewClient(addrs string) (*Client, error) {
	addrList := strings.Split(addrs, ",")

	var client redis.UniversalClient
	if len(addrList) > 1 {
		client = redis.NewClusterClient(&redis.ClusterOptions{Addrs: addrList})
	} else {
		client = redis.NewClient(&redis.Options{Addr: addrList[0]})
	}

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addrs, err)
	}

	return &Client{
		client:  client,
		scripts: make(map[string]*redis.Script),
	}, nil
}

// GetClient 暴露底层客户端，供 pipeline、pub/sub 等场景使用
func (c *Client) GetClient() redis.UniversalClient {
	return c.client
}

// LoadScriptFromContent 以指定名字注册一段 Lua 脚本内容
func (c *Client) LoadScriptFromContent(name, content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("script %q is empty", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[name] = redis.NewScript(content)
	return nil
}

// LoadScriptFromFile 从文件加载并注册一段 Lua 脚本
func (c *Client) LoadScriptFromFile(name, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read script file %s: %w", path, err)
	}
	return c.LoadScriptFromContent(name, string(content))
}

// RunScript 执行一个已注册的脚本
func (c *Client) RunScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error) {
	c.mu.RLock()
	script, ok := c.scripts[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("script %q is not loaded", name)
	}
	// script.Run 内部先尝试 EVALSHA，NOSCRIPT 时回退 EVAL
	return script.Run(ctx, c.client, keys, args...).Result()
}

// Close 关闭底层连接
func (c *Client) Close() error {
	return c.client.Close()
}
