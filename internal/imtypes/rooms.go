package imtypes

import (
	"fmt"
	"strconv"
	"strings"
)

// RoomKind 是房间 ID 的前缀。
type RoomKind string

const (
	RoomConversation RoomKind = "conversation"
	RoomProject      RoomKind = "project"
	RoomUser         RoomKind = "user"
)

// ConversationRoom returns "conversation:<id>".
func ConversationRoom(id uint) string { return roomID(RoomConversation, id) }

// ProjectRoom returns "project:<id>".
func ProjectRoom(id uint) string { return roomID(RoomProject, id) }

// UserRoom returns "user:<id>".
func UserRoom(id uint) string { return roomID(RoomUser, id) }

func roomID(kind RoomKind, id uint) string {
	return string(kind) + ":" + strconv.FormatUint(uint64(id), 10)
}

// ParseRoom splits a room id into its kind and numeric id.
func ParseRoom(room string) (RoomKind, uint, error) {
	prefix, rawID, ok := strings.Cut(room, ":")
	if !ok {
		return "", 0, fmt.Errorf("房间 ID 格式无效: %q", room)
	}
	kind := RoomKind(prefix)
	switch kind {
	case RoomConversation, RoomProject, RoomUser:
	default:
		return "", 0, fmt.Errorf("未知的房间类型: %q", prefix)
	}
	id, err := strconv.ParseUint(rawID, 10, 32)
	if err != nil || id == 0 {
		return "", 0, fmt.Errorf("房间 ID 无效: %q", room)
	}
	return kind, uint(id), nil
}
