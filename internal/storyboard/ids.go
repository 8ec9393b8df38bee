package storyboard

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// SceneID derives a stable id from the story and the scene position.
// The same story always yields the same ids, so callback data survives restarts.
func SceneID(story string, index int) (string, error) {
	// BLAKE2b-64 足够区分同一故事内的场景
	h, err := blake2b.New(8, nil)
	if err != nil {
		return "", fmt.Errorf("创建 blake2b hasher 失败: %w", err)
	}
	if _, err := h.Write([]byte(story)); err != nil {
		return "", fmt.Errorf("写入 story 失败: %w", err)
	}

	// 写入顺序必须固定
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(index))
	if _, err := h.Write(buf); err != nil {
		return "", fmt.Errorf("写入 index 失败: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
