package syncstore

import (
	"fmt"

	"sitechat/internal/imtypes"
)

// Thread 是一个帖子和它的回复, 都可能含有乐观占位。
type Thread struct {
	Root    Entry
	Replies []Entry
}

// Threads 是一个项目讨论区。帖子和回复同属项目的讨论会话, 由一个 Store 合并,
// 去重、乐观发送、对账和失败恢复都与聊天相同。
type Threads struct {
	projectID uint
	store     *Store
}

func NewThreads(projectID, selfID uint) *Threads {
	return &Threads{projectID: projectID, store: newUnboundStore(selfID)}
}

// Load 合并一次讨论区拉取的结果。
func (t *Threads) Load(threads []imtypes.ThreadView) {
	for _, th := range threads {
		t.store.Apply(th.Root)
		for _, r := range th.Replies {
			t.store.Apply(asReply(th.Root.ID, r))
		}
	}
}

func (t *Threads) ApplyPosted(p imtypes.DiscussionPostedPayload) bool {
	if p.ProjectID != t.projectID {
		return false
	}
	p.Message.ParentID = nil
	t.store.Apply(p.Message)
	return true
}

// ApplyReplied 回复的帖子本地未知时返回 false, 调用方应重新拉取。
func (t *Threads) ApplyReplied(p imtypes.DiscussionRepliedPayload) bool {
	if p.ProjectID != t.projectID || !t.hasRoot(p.MsgID) {
		return false
	}
	t.store.Apply(asReply(p.MsgID, p.Reply))
	return true
}

// Post 追加一个新帖的乐观占位。
func (t *Threads) Post(p Placeholder) Placeholder {
	p.ParentID = 0
	return t.store.MergeOptimistic(p)
}

// Reply 追加一个回复的乐观占位, 帖子必须已经在本地。
func (t *Threads) Reply(rootID uint, p Placeholder) (Placeholder, error) {
	if !t.hasRoot(rootID) {
		return Placeholder{}, fmt.Errorf("帖子 %d 不在讨论区中", rootID)
	}
	p.ParentID = rootID
	return t.store.MergeOptimistic(p), nil
}

// Succeeded 处理 REST 的发帖或回复响应, 与随后到达的事件走同一条合并路径。
func (t *Threads) Succeeded(m imtypes.MessageView) string {
	return t.store.Apply(m)
}

// Failed 移除占位并返回草稿。
func (t *Threads) Failed(tempID string) (Draft, bool) {
	return t.store.FailSend(tempID)
}

func (t *Threads) hasRoot(id uint) bool {
	m, ok := t.store.messages[id]
	return ok && m.ParentID == nil
}

// List 返回帖子与回复, 都按 (timestamp, sequence) 升序, 占位排在各自列表末尾。
func (t *Threads) List() []Thread {
	entries := t.store.Messages()
	var out []Thread
	index := make(map[uint]int)
	for _, e := range entries {
		if e.ParentID == nil {
			if !e.Pending {
				index[e.ID] = len(out)
			}
			out = append(out, Thread{Root: e})
		}
	}
	for _, e := range entries {
		if e.ParentID == nil {
			continue
		}
		if i, ok := index[*e.ParentID]; ok {
			out[i].Replies = append(out[i].Replies, e)
		}
	}
	return out
}

func asReply(rootID uint, r imtypes.MessageView) imtypes.MessageView {
	if r.ParentID == nil {
		id := rootID
		r.ParentID = &id
	}
	return r
}
