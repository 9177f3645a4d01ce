package notification

// Outcome は1接続への配信結果。
type Outcome struct {
	// Conn は配信先の接続。
	Conn Conn
	// Err は配信に失敗した理由。成功時はnil。
	Err error
}

// Delivered は配信に成功したかどうかを返す。
func (o Outcome) Delivered() bool {
	return o.Err == nil
}

// Dispatcher は永続化済みの通知をライブ接続へ配信する。
type Dispatcher struct {
	registry *Registry
}

// NewDispatcher はRegistryを配信先の解決に使うDispatcherを生成する。
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Targets は通知の配信先となる接続を解決する。
// 宛先付きならそのアカウントの接続、ブロードキャストなら全接続。
func (d *Dispatcher) Targets(n Notification) []Conn {
	if n.TargetAccount != nil {
		return d.registry.ConnectionsFor(*n.TargetAccount)
	}
	return d.registry.AllConnections()
}

// Deliver は通知を配信先の各接続の送信キューへ積み、接続ごとの結果を返す。
// Enqueueはブロックしないため、遅い接続が他の接続への配信を待たせることはない。
// 失敗した接続の後始末は呼び出し元が行う。
func (d *Dispatcher) Deliver(n Notification) []Outcome {
	targets := d.Targets(n)
	frame := notificationFrame(n)

	outcomes := make([]Outcome, 0, len(targets))
	for _, c := range targets {
		outcomes = append(outcomes, Outcome{Conn: c, Err: c.Enqueue(frame)})
	}
	return outcomes
}
