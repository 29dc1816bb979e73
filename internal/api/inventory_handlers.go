package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/annel0/inventory-grid/internal/app"
	"github.com/annel0/inventory-grid/internal/inventory"
	"github.com/annel0/inventory-grid/internal/vec"
)

// AddItemRequest — запрос на добавление предметов
type AddItemRequest struct {
	ItemID string `json:"item_id" binding:"required"`
	Copies int    `json:"copies" binding:"required,min=1"`
}

// MoveRequest — целевая клетка для origin стопки
type MoveRequest struct {
	X *int `json:"x" binding:"required"`
	Y *int `json:"y" binding:"required"`
}

// SplitRequest — сколько экземпляров отделить
type SplitRequest struct {
	Copies int `json:"copies" binding:"required,min=1"`
}

// ResizeRequest — новый размер сетки
type ResizeRequest struct {
	Width  int `json:"width" binding:"min=0"`
	Height int `json:"height" binding:"min=0"`
}

// statusFor переводит ошибку сервиса в HTTP статус
func statusFor(err error) int {
	switch {
	case errors.Is(err, app.ErrNotFound), errors.Is(err, inventory.ErrInvalidKey):
		return http.StatusNotFound
	case errors.Is(err, inventory.ErrUnknownItem), errors.Is(err, inventory.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrRejected), errors.Is(err, inventory.ErrNotAllowed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (rs *RestServer) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		rs.log.Error("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, GenericResponse{Success: false, Message: err.Error()})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: message})
}

// service возвращает открытый или сохранённый инвентарь из пути
func (rs *RestServer) service(c *gin.Context) (*app.InventoryService, bool) {
	svc, err := rs.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		rs.fail(c, err)
		return nil, false
	}
	return svc, true
}

// stackKey разбирает :entry/:stack
func stackKey(c *gin.Context) (inventory.Key, bool) {
	entry, err1 := strconv.ParseInt(c.Param("entry"), 10, 64)
	stack, err2 := strconv.ParseInt(c.Param("stack"), 10, 64)
	key := inventory.Key{Entry: inventory.EntryKey(entry), Stack: inventory.StackKey(stack)}
	if err1 != nil || err2 != nil || !key.IsValid() {
		badRequest(c, "Неверный ключ стопки")
		return inventory.Key{}, false
	}
	return key, true
}

// handleListInventories возвращает открытые и сохранённые инвентари
func (rs *RestServer) handleListInventories(c *gin.Context) {
	stored, err := rs.registry.Stored(c.Request.Context())
	if err != nil {
		rs.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Список инвентарей получен",
		Data: map[string]interface{}{
			"open":   rs.registry.IDs(),
			"stored": stored,
		},
	})
}

func (rs *RestServer) handleGetInventory(c *gin.Context) {
	svc, ok := rs.service(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Инвентарь получен", Data: svc.View()})
}

// handleKeyAt ищет стопку по клетке ?x=&y=
func (rs *RestServer) handleKeyAt(c *gin.Context) {
	svc, ok := rs.service(c)
	if !ok {
		return
	}
	x, err1 := strconv.Atoi(c.Query("x"))
	y, err2 := strconv.Atoi(c.Query("y"))
	if err1 != nil || err2 != nil {
		badRequest(c, "Параметры x и y обязательны")
		return
	}
	key, found := svc.KeyAt(vec.Vec2{X: x, Y: y})
	if !found {
		c.JSON(http.StatusNotFound, GenericResponse{Success: false, Message: "Клетка свободна"})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Стопка найдена", Data: key})
}

func (rs *RestServer) handleEvents(c *gin.Context) {
	svc, ok := rs.service(c)
	if !ok {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 0 {
		badRequest(c, "Неверный limit")
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "События получены", Data: svc.RecentEvents(limit)})
}

// handleAddItem создаёт инвентарь при первом добавлении
func (rs *RestServer) handleAddItem(c *gin.Context) {
	var req AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверный формат запроса: "+err.Error())
		return
	}
	svc, _, err := rs.registry.Open(c.Request.Context(), c.Param("id"))
	if err != nil {
		rs.fail(c, err)
		return
	}
	ev, err := svc.AddItem(inventory.ItemID(req.ItemID), req.Copies)
	if err != nil {
		rs.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, GenericResponse{Success: true, Message: "Предметы добавлены", Data: ev.Keys()})
}

// handleRemoveItems убирает ?copies=n экземпляров, по умолчанию всю стопку
func (rs *RestServer) handleRemoveItems(c *gin.Context) {
	svc, ok := rs.service(c)
	if !ok {
		return
	}
	key, ok := stackKey(c)
	if !ok {
		return
	}
	copies := 0
	if q := c.Query("copies"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil {
			badRequest(c, "Неверный copies")
			return
		}
		copies = n
	} else {
		copies = svc.Copies(key)
	}
	if _, err := svc.RemoveItems(key, copies); err != nil {
		rs.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Предметы удалены"})
}

func (rs *RestServer) handleMoveItem(c *gin.Context) {
	svc, ok := rs.service(c)
	if !ok {
		return
	}
	key, ok := stackKey(c)
	if !ok {
		return
	}
	var req MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверный формат запроса: "+err.Error())
		return
	}
	if err := svc.MoveItem(key, vec.Vec2{X: *req.X, Y: *req.Y}); err != nil {
		rs.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Стопка перемещена", Data: svc.View()})
}

func (rs *RestServer) handleRotateItem(c *gin.Context) {
	svc, ok := rs.service(c)
	if !ok {
		return
	}
	key, ok := stackKey(c)
	if !ok {
		return
	}
	if err := svc.RotateItem(key); err != nil {
		rs.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Стопка повёрнута", Data: svc.View()})
}

func (rs *RestServer) handleSplitStack(c *gin.Context) {
	svc, ok := rs.service(c)
	if !ok {
		return
	}
	key, ok := stackKey(c)
	if !ok {
		return
	}
	var req SplitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверный формат запроса: "+err.Error())
		return
	}
	newKey, err := svc.SplitStack(key, req.Copies)
	if err != nil {
		rs.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, GenericResponse{Success: true, Message: "Стопка разделена", Data: newKey})
}

func (rs *RestServer) handleResize(c *gin.Context) {
	var req ResizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверный формат запроса: "+err.Error())
		return
	}
	svc, _, err := rs.registry.Open(c.Request.Context(), c.Param("id"))
	if err != nil {
		rs.fail(c, err)
		return
	}
	if err := svc.Resize(vec.Vec2{X: req.Width, Y: req.Height}); err != nil {
		rs.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Размер изменён", Data: svc.View()})
}

func (rs *RestServer) handleSave(c *gin.Context) {
	id := c.Param("id")
	if err := rs.registry.Save(c.Request.Context(), id); err != nil {
		rs.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Инвентарь " + id + " сохранён"})
}

func (rs *RestServer) handleCatalog(c *gin.Context) {
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Каталог получен", Data: rs.registry.Catalog().All()})
}
