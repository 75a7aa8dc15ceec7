package clock

import "time"

// Clock 时间源抽象。所有业务时间比较都通过注入的 Clock 进行，
// 便于测试中固定时刻，也保证全部组件使用同一显式时区。
type Clock interface {
	// Now 返回业务时区下的当前时间
	Now() time.Time
	// Location 返回业务时区
	Location() *time.Location
}

type realClock struct {
	loc *time.Location
}

// New 创建墙钟时间源，loc 为显式加载的业务时区
func New(loc *time.Location) Clock {
	return &realClock{loc: loc}
}

func (c *realClock) Now() time.Time {
	return time.Now().In(c.loc)
}

func (c *realClock) Location() *time.Location {
	return c.loc
}

// Fixed 可手动推进的时间源，仅用于测试
type Fixed struct {
	Current time.Time
}

// NewFixed 创建固定时间源
func NewFixed(t time.Time) *Fixed {
	return &Fixed{Current: t}
}

func (f *Fixed) Now() time.Time {
	return f.Current
}

func (f *Fixed) Location() *time.Location {
	return f.Current.Location()
}

// Advance 将固定时间源向前推进 d
func (f *Fixed) Advance(d time.Duration) {
	f.Current = f.Current.Add(d)
}
