package transaction

import (
	"time"
)

// TimerID идентификатор таймера
type TimerID string

const (
	// Таймеры клиентских транзакций согласно RFC 3261
	TimerA TimerID = "A" // INVITE request retransmit
	TimerB TimerID = "B" // INVITE transaction timeout
	TimerD TimerID = "D" // Wait in Completed (INVITE)
	TimerE TimerID = "E" // Non-INVITE request retransmit
	TimerF TimerID = "F" // Non-INVITE transaction timeout
	TimerK TimerID = "K" // Wait in Completed (non-INVITE)
)

// Timers набор интервалов таймеров транзакции
type Timers struct {
	T1 time.Duration // оценка RTT
	T2 time.Duration // максимальный интервал ретрансмиссии
	T4 time.Duration // максимальное время жизни сообщения в сети

	TimerA time.Duration
	TimerB time.Duration
	TimerD time.Duration
	TimerE time.Duration
	TimerF time.Duration
	TimerK time.Duration
}

// DefaultTimers возвращает значения по умолчанию из RFC 3261
func DefaultTimers() Timers {
	t1 := 500 * time.Millisecond
	return Timers{
		T1:     t1,
		T2:     4 * time.Second,
		T4:     5 * time.Second,
		TimerA: t1,
		TimerB: 64 * t1,
		TimerD: 32 * time.Second,
		TimerE: t1,
		TimerF: 64 * t1,
		TimerK: 5 * time.Second,
	}
}

// TimersFromT1 масштабирует все интервалы от заданного T1.
// Используется в тестах для ускорения прогона FSM.
func TimersFromT1(t1 time.Duration) Timers {
	t := DefaultTimers()
	t.T1 = t1
	t.TimerA = t1
	t.TimerB = 64 * t1
	t.TimerE = t1
	t.TimerF = 64 * t1
	return t
}

// AdjustForReliableTransport корректирует таймеры для надежного транспорта
func (t Timers) AdjustForReliableTransport() Timers {
	adjusted := t
	adjusted.TimerA = 0 // Нет ретрансмиссий для надежного транспорта
	adjusted.TimerD = 0
	adjusted.TimerE = 0
	adjusted.TimerK = 0
	return adjusted
}

// GetTimerDuration возвращает длительность таймера из набора
func (t Timers) GetTimerDuration(id TimerID) time.Duration {
	switch id {
	case TimerA:
		return t.TimerA
	case TimerB:
		return t.TimerB
	case TimerD:
		return t.TimerD
	case TimerE:
		return t.TimerE
	case TimerF:
		return t.TimerF
	case TimerK:
		return t.TimerK
	default:
		return 0
	}
}

// Timer представляет активный таймер
type Timer struct {
	ID       TimerID
	Duration time.Duration
	timer    *time.Timer
	callback func()
}

// NewTimer создает новый таймер
func NewTimer(id TimerID, duration time.Duration, callback func()) *Timer {
	if duration <= 0 {
		return nil
	}

	t := &Timer{
		ID:       id,
		Duration: duration,
		callback: callback,
	}

	t.timer = time.AfterFunc(duration, func() {
		if t.callback != nil {
			t.callback()
		}
	})

	return t
}

// Stop останавливает таймер
func (t *Timer) Stop() bool {
	if t.timer != nil {
		return t.timer.Stop()
	}
	return false
}

// Reset перезапускает таймер с новой длительностью
func (t *Timer) Reset(duration time.Duration) bool {
	if t.timer != nil {
		t.Duration = duration
		return t.timer.Reset(duration)
	}
	return false
}

// TimerManager управляет таймерами транзакции
type TimerManager struct {
	timers map[TimerID]*Timer
}

// NewTimerManager создает новый менеджер таймеров
func NewTimerManager() *TimerManager {
	return &TimerManager{
		timers: make(map[TimerID]*Timer),
	}
}

// Start запускает таймер, останавливая существующий с тем же ID
func (tm *TimerManager) Start(id TimerID, duration time.Duration, callback func()) {
	tm.Stop(id)

	if duration > 0 {
		timer := NewTimer(id, duration, callback)
		if timer != nil {
			tm.timers[id] = timer
		}
	}
}

// Stop останавливает таймер
func (tm *TimerManager) Stop(id TimerID) bool {
	if timer, ok := tm.timers[id]; ok {
		stopped := timer.Stop()
		delete(tm.timers, id)
		return stopped
	}
	return false
}

// StopAll останавливает все таймеры
func (tm *TimerManager) StopAll() {
	for id := range tm.timers {
		tm.Stop(id)
	}
}

// Reset перезапускает таймер с новой длительностью
func (tm *TimerManager) Reset(id TimerID, duration time.Duration) bool {
	if timer, ok := tm.timers[id]; ok {
		return timer.Reset(duration)
	}
	return false
}

// IsActive проверяет активен ли таймер
func (tm *TimerManager) IsActive(id TimerID) bool {
	_, ok := tm.timers[id]
	return ok
}

// NextRetransmitInterval вычисляет следующий интервал ретрансмиссии
// для non-INVITE транзакций (удваивается до T2)
func NextRetransmitInterval(current time.Duration, t2 time.Duration) time.Duration {
	next := current * 2
	if next > t2 {
		return t2
	}
	return next
}
