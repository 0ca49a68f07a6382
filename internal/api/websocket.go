// internal/api/websocket.go
package api

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Corphon/PersonaKit/internal/utils"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketClient 一个对话流连接
type WebSocketClient struct {
	conn       *websocket.Conn
	dialogueID string
	writeMu    sync.Mutex
	closed     int32 // 0=开启，1=关闭
	createdAt  time.Time
}

func newWebSocketClient(conn *websocket.Conn, dialogueID string) *WebSocketClient {
	conn.SetReadLimit(maxMessageSize)
	return &WebSocketClient{conn: conn, dialogueID: dialogueID, createdAt: time.Now()}
}

// Close 安全关闭客户端连接
func (client *WebSocketClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		client.writeMu.Lock()
		_ = client.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		client.writeMu.Unlock()
		client.conn.Close()
	}
}

// IsClosed 检查连接是否已关闭
func (client *WebSocketClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// WriteJSON 串行写出，gorilla 连接同一时刻只允许一个写者
func (client *WebSocketClient) WriteJSON(v interface{}) error {
	if client.IsClosed() {
		return websocket.ErrCloseSent
	}
	client.writeMu.Lock()
	defer client.writeMu.Unlock()
	_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return client.conn.WriteJSON(v)
}

// WebSocketManager 按对话 ID 管理所有流连接
type WebSocketManager struct {
	connections map[string]map[*WebSocketClient]struct{} // dialogueID -> clients
	mutex       sync.RWMutex
	logger      *utils.Logger
}

// NewWebSocketManager 创建连接管理器
func NewWebSocketManager(logger *utils.Logger) *WebSocketManager {
	if logger == nil {
		logger = utils.NopLogger()
	}
	return &WebSocketManager{
		connections: make(map[string]map[*WebSocketClient]struct{}),
		logger:      logger,
	}
}

func (manager *WebSocketManager) register(client *WebSocketClient) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	if manager.connections[client.dialogueID] == nil {
		manager.connections[client.dialogueID] = make(map[*WebSocketClient]struct{})
	}
	manager.connections[client.dialogueID][client] = struct{}{}
	manager.logger.Debug("websocket client connected", map[string]interface{}{"dialogue": client.dialogueID})
}

func (manager *WebSocketManager) unregister(client *WebSocketClient) {
	manager.mutex.Lock()
	if clients, ok := manager.connections[client.dialogueID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(manager.connections, client.dialogueID)
		}
	}
	manager.mutex.Unlock()

	client.Close()
	manager.logger.Debug("websocket client disconnected", map[string]interface{}{"dialogue": client.dialogueID})
}

func (manager *WebSocketManager) take(dialogueID string) []*WebSocketClient {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	var out []*WebSocketClient
	for id, clients := range manager.connections {
		if dialogueID != "" && id != dialogueID {
			continue
		}
		for client := range clients {
			out = append(out, client)
		}
		delete(manager.connections, id)
	}
	return out
}

// CloseDialogue 关闭某个对话的全部连接（对话被删除时）
func (manager *WebSocketManager) CloseDialogue(dialogueID string) {
	for _, client := range manager.take(dialogueID) {
		client.Close()
	}
}

// CloseAll 关闭全部连接，服务退出时调用
func (manager *WebSocketManager) CloseAll() {
	clients := manager.take("")
	for _, client := range clients {
		client.Close()
	}
	if len(clients) > 0 {
		manager.logger.Info("websocket connections closed", map[string]interface{}{"count": len(clients)})
	}
}

// GetStatus 获取管理器状态
func (manager *WebSocketManager) GetStatus() map[string]interface{} {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	dialogues := make(map[string]interface{}, len(manager.connections))
	total := 0
	for id, clients := range manager.connections {
		connected := make([]string, 0, len(clients))
		for client := range clients {
			if !client.IsClosed() {
				connected = append(connected, client.createdAt.Format(time.RFC3339))
			}
		}
		dialogues[id] = map[string]interface{}{
			"client_count": len(connected),
			"connected_at": connected,
		}
		total += len(connected)
	}
	return map[string]interface{}{
		"total_dialogues":   len(manager.connections),
		"total_connections": total,
		"dialogues":         dialogues,
	}
}
