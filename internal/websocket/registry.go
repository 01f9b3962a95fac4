package websocket

// registry 记录在线用户的所有连接 (多端登录时一个用户有多个连接)。
// 只由 Hub.Run 所在的 goroutine 访问。
type registry struct {
	byUser map[uint]map[*Client]struct{}
	count  int
}

func newRegistry() *registry {
	return &registry{byUser: make(map[uint]map[*Client]struct{})}
}

// add 返回该用户是否是第一次上线。
func (r *registry) add(c *Client) bool {
	set, ok := r.byUser[c.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		r.byUser[c.UserID] = set
	}
	if _, exists := set[c]; exists {
		return false
	}
	set[c] = struct{}{}
	r.count++
	return !ok
}

// remove 返回连接是否确实在册。
func (r *registry) remove(c *Client) bool {
	set, ok := r.byUser[c.UserID]
	if !ok {
		return false
	}
	if _, exists := set[c]; !exists {
		return false
	}
	delete(set, c)
	r.count--
	if len(set) == 0 {
		delete(r.byUser, c.UserID)
	}
	return true
}

func (r *registry) lookup(userID uint) []*Client {
	set := r.byUser[userID]
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

func (r *registry) users() int { return len(r.byUser) }
