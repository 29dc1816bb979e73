package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/annel0/inventory-grid/internal/eventbus"
	"github.com/annel0/inventory-grid/internal/logging"
)

// OutboundWebhook представляет исходящий webhook
type OutboundWebhook struct {
	ID           uint64     `json:"id"`
	Name         string     `json:"name" binding:"required"`
	URL          string     `json:"url" binding:"required"`
	Secret       string     `json:"secret,omitempty"`
	Events       []string   `json:"events" binding:"required"` // типы конвертов или "*"
	Inventories  []string   `json:"inventories,omitempty"`     // пусто — все инвентари
	Active       bool       `json:"active"`
	Timeout      int        `json:"timeout"` // Таймаут в секундах
	RetryCount   int        `json:"retry_count"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsed     *time.Time `json:"last_used,omitempty"`
	FailureCount int        `json:"failure_count"`
}

// OutboundWebhookEvent — тело запроса к webhook'у
type OutboundWebhookEvent struct {
	EventType string          `json:"event_type"`
	EventID   string          `json:"event_id"`
	Timestamp int64           `json:"timestamp"`
	ServerID  string          `json:"server_id"`
	Inventory string          `json:"inventory"`
	Data      json.RawMessage `json:"data"`
}

// OutboundWebhookManager пересылает события сетки из шины в подписанные webhook'и
type OutboundWebhookManager struct {
	webhooks   map[uint64]*OutboundWebhook
	eventQueue chan OutboundWebhookEvent
	mu         sync.RWMutex
	nextID     uint64
	httpClient *http.Client
	serverID   string
	retryDelay time.Duration
	closed     bool

	sub  eventbus.Subscription
	wg   sync.WaitGroup
	once sync.Once
	log  *logging.Logger
}

// NewOutboundWebhookManager создаёт менеджер и запускает воркер очереди
func NewOutboundWebhookManager(serverID string) *OutboundWebhookManager {
	manager := &OutboundWebhookManager{
		webhooks:   make(map[uint64]*OutboundWebhook),
		eventQueue: make(chan OutboundWebhookEvent, 1000), // Буфер для событий
		nextID:     1,
		serverID:   serverID,
		retryDelay: time.Second,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: logging.GetComponentLogger("webhooks"),
	}

	manager.wg.Add(1)
	go manager.eventWorker()
	return manager
}

// Listen подписывает менеджер на события сетки в шине
func (owm *OutboundWebhookManager) Listen(ctx context.Context, bus eventbus.EventBus) error {
	sub, err := bus.Subscribe(ctx, eventbus.Filter{Types: owm.GetEventTypes()}, func(_ context.Context, ev *eventbus.Envelope) {
		owm.SendEvent(ev)
	})
	if err != nil {
		return err
	}
	owm.sub = sub
	return nil
}

// AddWebhook добавляет новый webhook
func (owm *OutboundWebhookManager) AddWebhook(webhook OutboundWebhook) *OutboundWebhook {
	owm.mu.Lock()
	defer owm.mu.Unlock()

	webhook.ID = owm.nextID
	owm.nextID++
	webhook.CreatedAt = time.Now()
	webhook.Active = true

	if webhook.Timeout == 0 {
		webhook.Timeout = 30
	}
	if webhook.RetryCount == 0 {
		webhook.RetryCount = 3
	}

	owm.webhooks[webhook.ID] = &webhook
	copied := webhook
	return &copied
}

// GetWebhooks возвращает копии всех webhook'ов по возрастанию ID
func (owm *OutboundWebhookManager) GetWebhooks() []OutboundWebhook {
	owm.mu.RLock()
	defer owm.mu.RUnlock()

	webhooks := make([]OutboundWebhook, 0, len(owm.webhooks))
	for _, webhook := range owm.webhooks {
		webhooks = append(webhooks, *webhook)
	}
	sort.Slice(webhooks, func(i, j int) bool { return webhooks[i].ID < webhooks[j].ID })
	return webhooks
}

// DeleteWebhook удаляет webhook
func (owm *OutboundWebhookManager) DeleteWebhook(id uint64) bool {
	owm.mu.Lock()
	defer owm.mu.Unlock()

	if _, exists := owm.webhooks[id]; !exists {
		return false
	}
	delete(owm.webhooks, id)
	return true
}

// SendEvent ставит конверт в очередь отправки
func (owm *OutboundWebhookManager) SendEvent(ev *eventbus.Envelope) {
	event := OutboundWebhookEvent{
		EventType: ev.EventType,
		EventID:   ev.ID,
		Timestamp: ev.Timestamp.Unix(),
		ServerID:  owm.serverID,
		Inventory: ev.Tenant,
		Data:      json.RawMessage(ev.Payload),
	}
	if !json.Valid(event.Data) {
		event.Data = json.RawMessage("null")
	}

	owm.mu.RLock()
	defer owm.mu.RUnlock()
	if owm.closed {
		return
	}
	select {
	case owm.eventQueue <- event:
		owm.log.Trace("📤 Событие %s добавлено в очередь webhook'ов", ev.EventType)
	default:
		owm.log.Warn("⚠️  Очередь webhook'ов переполнена, событие %s пропущено", ev.EventType)
	}
}

// eventWorker обрабатывает события из очереди
func (owm *OutboundWebhookManager) eventWorker() {
	defer owm.wg.Done()
	for event := range owm.eventQueue {
		owm.processEvent(event)
	}
}

// processEvent отправляет событие подписанным webhook'ам по очереди,
// чтобы получатель видел события инвентаря в порядке публикации
func (owm *OutboundWebhookManager) processEvent(event OutboundWebhookEvent) {
	owm.mu.RLock()
	webhooks := make([]*OutboundWebhook, 0)
	for _, webhook := range owm.webhooks {
		if webhook.Active && isSubscribed(webhook, event) {
			webhooks = append(webhooks, webhook)
		}
	}
	owm.mu.RUnlock()
	sort.Slice(webhooks, func(i, j int) bool { return webhooks[i].ID < webhooks[j].ID })

	for _, webhook := range webhooks {
		owm.sendToWebhook(webhook, event)
	}
}

func isSubscribed(webhook *OutboundWebhook, event OutboundWebhookEvent) bool {
	matches := func(val string, list []string, emptyMatches bool) bool {
		if len(list) == 0 {
			return emptyMatches
		}
		for _, v := range list {
			if v == val || v == "*" {
				return true
			}
		}
		return false
	}
	return matches(event.EventType, webhook.Events, false) && matches(event.Inventory, webhook.Inventories, true)
}

// sendToWebhook отправляет событие конкретному webhook'у с повторами
func (owm *OutboundWebhookManager) sendToWebhook(webhook *OutboundWebhook, event OutboundWebhookEvent) {
	jsonData, err := json.Marshal(event)
	if err != nil {
		owm.log.Error("❌ Ошибка маршалинга события для webhook %s: %v", webhook.Name, err)
		return
	}

	owm.mu.RLock()
	url, secret, name := webhook.URL, webhook.Secret, webhook.Name
	timeout, retries := time.Duration(webhook.Timeout)*time.Second, webhook.RetryCount
	owm.mu.RUnlock()

	success := false
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * owm.retryDelay)
		}
		status, err := owm.post(url, secret, event, jsonData, timeout)
		if err != nil {
			owm.log.Warn("⚠️  Попытка %d/%d для webhook %s: %v", attempt+1, retries+1, name, err)
			continue
		}
		if status >= 200 && status < 300 {
			success = true
			owm.log.Debug("✅ Событие %s отправлено в webhook %s", event.EventType, name)
			break
		}
		owm.log.Warn("⚠️  Webhook %s вернул статус %d на попытке %d", name, status, attempt+1)
	}

	owm.mu.Lock()
	now := time.Now()
	webhook.LastUsed = &now
	if !success {
		webhook.FailureCount++
	}
	owm.mu.Unlock()
}

func (owm *OutboundWebhookManager) post(url, secret string, event OutboundWebhookEvent, body []byte, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Inventory-Grid/1.0")
	req.Header.Set("X-Event-Type", event.EventType)
	req.Header.Set("X-Server-ID", event.ServerID)
	if secret != "" {
		req.Header.Set("X-Webhook-Signature", generateSignature(body, secret))
	}

	resp, err := owm.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// generateSignature генерирует HMAC подпись
func generateSignature(data []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature проверяет заголовок X-Webhook-Signature на стороне получателя
func VerifySignature(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(generateSignature(body, secret)), []byte(signature))
}

// GetEventTypes возвращает типы событий, доступные для подписки
func (owm *OutboundWebhookManager) GetEventTypes() []string {
	return []string{
		eventbus.TypeGridItemAdded,
		eventbus.TypeGridItemRemoved,
		eventbus.TypeGridItemChanged,
		eventbus.TypeGridResized,
	}
}

// Stop отписывается от шины и дожидается отправки очереди
func (owm *OutboundWebhookManager) Stop() {
	owm.once.Do(func() {
		if owm.sub != nil {
			owm.sub.Unsubscribe()
		}
		owm.mu.Lock()
		owm.closed = true
		close(owm.eventQueue)
		owm.mu.Unlock()
		owm.wg.Wait()
	})
}

// === ОБРАБОТЧИКИ ИСХОДЯЩИХ WEBHOOK'ОВ ===

// handleGetOutboundWebhooks возвращает список исходящих webhook'ов
func (rs *RestServer) handleGetOutboundWebhooks(c *gin.Context) {
	webhooks := rs.webhooks.GetWebhooks()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Список webhook'ов получен",
		Data: map[string]interface{}{
			"webhooks": webhooks,
			"total":    len(webhooks),
		},
	})
}

// handleCreateOutboundWebhook создает новый исходящий webhook
func (rs *RestServer) handleCreateOutboundWebhook(c *gin.Context) {
	var webhook OutboundWebhook
	if err := c.ShouldBindJSON(&webhook); err != nil {
		badRequest(c, "Неверный формат webhook'а: "+err.Error())
		return
	}
	if webhook.Name == "" || webhook.URL == "" || len(webhook.Events) == 0 {
		badRequest(c, "Обязательные поля: name, url, events")
		return
	}

	c.JSON(http.StatusCreated, GenericResponse{
		Success: true,
		Message: "Webhook создан успешно",
		Data:    rs.webhooks.AddWebhook(webhook),
	})
}

// handleDeleteOutboundWebhook удаляет webhook
func (rs *RestServer) handleDeleteOutboundWebhook(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "Неверный ID webhook'а")
		return
	}
	if !rs.webhooks.DeleteWebhook(id) {
		c.JSON(http.StatusNotFound, GenericResponse{Success: false, Message: "Webhook не найден"})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Webhook удален"})
}

// handleGetWebhookEventTypes возвращает доступные типы событий
func (rs *RestServer) handleGetWebhookEventTypes(c *gin.Context) {
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Типы событий получены",
		Data:    rs.webhooks.GetEventTypes(),
	})
}
