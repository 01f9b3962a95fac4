package websocket

import "sitechat/internal/imtypes"

// focus 是一个连接当前所在的会话房间与项目房间。
// 每种房间最多一个: 进入新的房间会先离开同类的旧房间 (idle -> joined(room) -> idle)。
// user 房间不受 focus 管理, 连接注册时自动加入。
type focus struct {
	conversation string
	project      string
}

func (f *focus) slot(kind imtypes.RoomKind) *string {
	switch kind {
	case imtypes.RoomConversation:
		return &f.conversation
	case imtypes.RoomProject:
		return &f.project
	}
	return nil
}

// enter 进入 room, 返回被顶替的旧房间 (没有时为空)。
func (f *focus) enter(kind imtypes.RoomKind, room string) (prev string) {
	s := f.slot(kind)
	if s == nil {
		return ""
	}
	prev = *s
	if prev == room {
		prev = ""
	}
	*s = room
	return prev
}

// exit 离开 room, room 不是当前房间时返回 false。
func (f *focus) exit(kind imtypes.RoomKind, room string) bool {
	s := f.slot(kind)
	if s == nil || *s != room {
		return false
	}
	*s = ""
	return true
}

func (f *focus) rooms() []string {
	var out []string
	if f.conversation != "" {
		out = append(out, f.conversation)
	}
	if f.project != "" {
		out = append(out, f.project)
	}
	return out
}
