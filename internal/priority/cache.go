package priority

import "github.com/goaly/internal/model"

// Cache 按 goal id 缓存优先级，脏标记置位后下一次读取会整体重算。
// Cache 不是并发安全的，调用方需自行串行化；也不要在两个不同的 goal 列表之间共用一个实例。
type Cache struct {
	calc   Calculator
	source func() []model.Goal

	dirty  bool
	values map[string]float64
}

// NewCache 创建缓存，source 返回当前的 goal 列表。
func NewCache(calc Calculator, source func() []model.Goal) *Cache {
	return &Cache{
		calc:   calc,
		source: source,
		dirty:  true,
		values: map[string]float64{},
	}
}

// Invalidate 只标记脏，不立即重算。
func (c *Cache) Invalidate() {
	c.dirty = true
}

// GetPriority 返回单个 goal 的优先级。
func (c *Cache) GetPriority(id string) (float64, bool) {
	c.refresh()
	p, ok := c.values[id]
	return p, ok
}

// GetAllPriorities 返回全部优先级的副本。
func (c *Cache) GetAllPriorities() map[string]float64 {
	c.refresh()
	out := make(map[string]float64, len(c.values))
	for id, p := range c.values {
		out[id] = p
	}
	return out
}

func (c *Cache) refresh() {
	if !c.dirty {
		return
	}
	values := map[string]float64{}
	if c.source != nil {
		for _, g := range c.source() {
			values[g.ID] = c.calc.Priority(g)
		}
	}
	c.values = values
	c.dirty = false
}
