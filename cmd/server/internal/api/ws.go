package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/houzhh15/singstudio/cmd/server/internal/orchestrator"
	"github.com/houzhh15/singstudio/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// CloseJobNotFound 订阅不存在的作业时使用的关闭码
	CloseJobNotFound = 4004
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 跨域由 CORS 配置控制，这里不重复校验
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleJobSocket GET /api/ws/:id
// 先推送当前状态，再持续推送进度事件，作业进入终态后正常关闭
func HandleJobSocket(jobs JobService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		log := logger.L().With("component", "ws", "job_id", id)

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		sub, err := jobs.Subscribe(id)
		if err != nil {
			code, text := websocket.CloseInternalServerErr, "internal error"
			if errors.Is(err, orchestrator.ErrNotFound) {
				code, text = CloseJobNotFound, "Job not found"
			}
			closeWith(conn, code, text)
			return
		}
		defer sub.Close()

		// 读循环只处理 pong 与客户端关闭
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			conn.SetReadDeadline(time.Now().Add(pongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(pongWait))
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
						log.Debug("websocket read ended", "error", err)
					}
					return
				}
			}
		}()

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case ev, ok := <-sub.Events():
				if !ok {
					closeWith(conn, websocket.CloseNormalClosure, "job finished")
					return
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(ev); err != nil {
					log.Debug("websocket write failed", "error", err)
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-gone:
				return
			case <-c.Request.Context().Done():
				return
			}
		}
	}
}

func closeWith(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
