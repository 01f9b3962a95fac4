package websocket

// roomTable 是房间到连接的映射。只由 Hub.Run 所在的 goroutine 访问。
type roomTable struct {
	members map[string]map[*Client]struct{}
}

func newRoomTable() *roomTable {
	return &roomTable{members: make(map[string]map[*Client]struct{})}
}

func (t *roomTable) join(c *Client, room string) {
	set, ok := t.members[room]
	if !ok {
		set = make(map[*Client]struct{})
		t.members[room] = set
	}
	set[c] = struct{}{}
}

func (t *roomTable) leave(c *Client, room string) {
	set, ok := t.members[room]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(t.members, room)
	}
}

func (t *roomTable) clients(room string) []*Client {
	set := t.members[room]
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

func (t *roomTable) size() int { return len(t.members) }
