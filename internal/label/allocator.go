// Package label 负责从固定命名空间中分配邮箱编号。
//
// 命名空间由 4 页（A-D）组成，每页 15 个格位（1-15），编号形如 "B7"。
// Allocate 是纯函数：相同的已用集合与数量总是得到相同结果，
// 调用方负责在串行化边界内提供一致的已用编号快照。
package label

import (
	"strconv"
	"strings"
)

const (
	// Pages 命名空间页字母
	Pages = "ABCD"
	// SlotsPerPage 每页格位数
	SlotsPerPage = 15
	// Capacity 命名空间总容量
	Capacity = len(Pages) * SlotsPerPage
)

// Allocate 按 A→D、1→15 的顺序挑选最多 n 个未使用的编号。
//
// 命名空间耗尽时返回实际分配到的编号（可能少于 n），这不是错误，
// 调用方应将结果长度视为实际开通的邮箱数量。
func Allocate(used map[string]struct{}, n int) []string {
	if n <= 0 {
		return nil
	}

	out := make([]string, 0, min(n, Capacity))
	for _, page := range Pages {
		for slot := 1; slot <= SlotsPerPage; slot++ {
			l := format(page, slot)
			if _, taken := used[l]; taken {
				continue
			}
			out = append(out, l)
			if len(out) == n {
				return out
			}
		}
	}
	return out
}

// UsedSet 将编号列表转换为已用集合
func UsedSet(labels []string) map[string]struct{} {
	set := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		set[strings.ToUpper(strings.TrimSpace(l))] = struct{}{}
	}
	return set
}

// Namespace 返回完整命名空间（按分配顺序）
func Namespace() []string {
	return Allocate(nil, Capacity)
}

// Valid 判断编号是否属于命名空间
func Valid(l string) bool {
	if len(l) < 2 || len(l) > 3 {
		return false
	}
	if !strings.ContainsRune(Pages, rune(l[0])) {
		return false
	}
	// 不接受前导零，例如 "A01"
	if l[1] == '0' {
		return false
	}
	slot, err := strconv.Atoi(l[1:])
	if err != nil {
		return false
	}
	return slot >= 1 && slot <= SlotsPerPage
}

func format(page rune, slot int) string {
	return string(page) + strconv.Itoa(slot)
}
