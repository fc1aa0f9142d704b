package postgres

// ChannelRates — счётчики сообщений чата за скользящие окна.
type ChannelRates struct {
	ChatID int64
	// PerMin15 — сообщений в минуту за последние 15 минут, без учёта
	// записей, проиндексированных с большим отставанием от даты сообщения.
	PerMin15 float64
	// PerMin24h — сообщений в минуту за последние сутки.
	PerMin24h float64
}

// Weight смешивает короткое и длинное окно активности: alpha задаёт вес
// 15-минутного окна, min — нижнюю границу итогового веса, чтобы тихие чаты
// не выпадали из распределения полностью.
func Weight(rates ChannelRates, alpha, min float64) float64 {
	w := alpha*rates.PerMin15 + (1-alpha)*rates.PerMin24h
	if w < min {
		return min
	}
	return w
}
