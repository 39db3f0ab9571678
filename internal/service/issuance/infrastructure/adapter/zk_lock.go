// internal/service/issuance/infrastructure/adapter/zk_lock.go
package adapter

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"context"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"

	"surge/internal/service/issuance/domain/port"
)

const lockRoot = "/surge_locks" // 所有发放锁的根节点

// ZkLockManager 是 port.LockManager 的 ZooKeeper 实现：
// 临时顺序节点 + 监听前驱。与 Redis 实现不同，lease 不是逐锁参数——
// 持有者崩溃后锁随会话超时自动释放，因此会话超时就是事实上的租约，
// 连接时应将其配置为与 lease 同量级。
type ZkLockManager struct {
	conn *zk.Conn
}

// NewZkLockManager 连接 ZooKeeper 并确保锁根节点存在。
// sessionTimeout 承担租约语义。
func NewZkLockManager(servers []string, sessionTimeout time.Duration) (*ZkLockManager, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "connect zookeeper")
	}

	if _, err := conn.Create(lockRoot, []byte(""), 0, zk.WorldACL(zk.PermAll)); err != nil && err != zk.ErrNodeExists {
		conn.Close()
		return nil, errors.Wrap(err, "create lock root node")
	}
	return &ZkLockManager{conn: conn}, nil
}

func (m *ZkLockManager) Close() {
	m.conn.Close()
}

// WithLock 在 wait 时间内竞争锁，成功后执行 fn 并在所有退出路径上释放
func (m *ZkLockManager) WithLock(ctx context.Context, key string, wait, lease time.Duration, fn func(ctx context.Context) error) error {
	lockPath, err := m.ensureLockPath(key)
	if err != nil {
		return err
	}

	node, err := m.acquire(ctx, lockPath, wait)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.conn.Delete(node, -1); err != nil && err != zk.ErrNoNode {
			// 删除失败节点会随会话过期消失
			_ = err
		}
	}()

	bodyCtx, cancel := context.WithTimeout(ctx, lease)
	defer cancel()
	return fn(bodyCtx)
}

func (m *ZkLockManager) ensureLockPath(key string) (string, error) {
	// key 含冒号等字符，直接作为节点名即可，斜杠除外
	lockPath := lockRoot + "/" + strings.ReplaceAll(key, "/", "_")
	if _, err := m.conn.Create(lockPath, []byte(""), 0, zk.WorldACL(zk.PermAll)); err != nil && err != zk.ErrNodeExists {
		return "", errors.Wrapf(err, "create lock path node %s", lockPath)
	}
	return lockPath, nil
}

// acquire 创建临时顺序节点并等待成为最小节点
func (m *ZkLockManager) acquire(ctx context.Context, lockPath string, wait time.Duration) (string, error) {
	nodePath, err := m.conn.CreateProtectedEphemeralSequential(lockPath+"/lock-", []byte(""), zk.WorldACL(zk.PermAll))
	if err != nil {
		return "", errors.Wrap(err, "create sequential node")
	}

	deadline := time.Now().Add(wait)
	for {
		children, _, err := m.conn.Children(lockPath)
		if err != nil {
			m.abandon(nodePath)
			return "", errors.Wrap(err, "list lock children")
		}
		sort.Strings(children)

		myNodeName := strings.TrimPrefix(nodePath, lockPath+"/")
		if len(children) > 0 && myNodeName == children[0] {
			// 最小节点，锁到手
			return nodePath, nil
		}

		// 监听自己的前驱，避免惊群
		prevIndex := -1
		for i, child := range children {
			if child == myNodeName {
				prevIndex = i - 1
				break
			}
		}
		if prevIndex < 0 {
			m.abandon(nodePath)
			return "", fmt.Errorf("own node %s missing from children", myNodeName)
		}

		exists, _, eventChan, err := m.conn.ExistsW(lockPath + "/" + children[prevIndex])
		if err != nil {
			m.abandon(nodePath)
			return "", errors.Wrap(err, "watch previous node")
		}
		if !exists {
			// 前驱在设置 Watch 前刚好释放，重新竞争
			continue
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			m.abandon(nodePath)
			return "", port.ErrLockAcquireTimeout
		}

		select {
		case event := <-eventChan:
			if event.Type == zk.EventNodeDeleted {
				continue
			}
		case <-time.After(remaining):
			m.abandon(nodePath)
			return "", port.ErrLockAcquireTimeout
		case <-ctx.Done():
			m.abandon(nodePath)
			return "", ctx.Err()
		}
	}
}

// abandon 清掉没抢到锁的候选节点，不然它会挡住后来者
func (m *ZkLockManager) abandon(nodePath string) {
	_ = m.conn.Delete(nodePath, -1)
}
