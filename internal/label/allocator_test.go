package label

import (
	"fmt"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var labelPattern = regexp.MustCompile(`^[A-D]([1-9]|1[0-5])$`)

func TestAllocate(t *testing.T) {
	t.Run("跳过已用编号并按顺序分配", func(t *testing.T) {
		var used []string
		for i := 1; i <= 15; i++ {
			used = append(used, fmt.Sprintf("A%d", i))
		}
		for i := 1; i <= 5; i++ {
			used = append(used, fmt.Sprintf("B%d", i))
		}

		got := Allocate(UsedSet(used), 3)

		assert.Equal(t, []string{"B6", "B7", "B8"}, got)
	})

	t.Run("空集合从A1开始", func(t *testing.T) {
		assert.Equal(t, []string{"A1", "A2"}, Allocate(nil, 2))
	})

	t.Run("数量为零或负数返回空", func(t *testing.T) {
		assert.Empty(t, Allocate(nil, 0))
		assert.Empty(t, Allocate(nil, -1))
	})

	t.Run("命名空间耗尽时返回部分结果", func(t *testing.T) {
		ns := Namespace()
		used := UsedSet(ns[:58])

		got := Allocate(used, 5)

		assert.Equal(t, []string{"D14", "D15"}, got)
	})

	t.Run("命名空间全满时返回空", func(t *testing.T) {
		assert.Empty(t, Allocate(UsedSet(Namespace()), 1))
	})
}

func TestAllocate_Properties(t *testing.T) {
	ns := Namespace()
	require.Len(t, ns, Capacity)

	// 对不同大小的已用集合验证：数量准确、互不重复、不在已用集合中、格式合法
	for usedCount := 0; usedCount <= Capacity; usedCount += 7 {
		used := make(map[string]struct{})
		// 取间隔编号，避免已用集合总是连续前缀
		for i := 0; i < len(ns) && len(used) < usedCount; i += 2 {
			used[ns[i]] = struct{}{}
		}
		for i := 1; i < len(ns) && len(used) < usedCount; i += 2 {
			used[ns[i]] = struct{}{}
		}

		n := Capacity - len(used)
		got := Allocate(used, n)

		assert.Len(t, got, n)
		seen := make(map[string]struct{}, len(got))
		for _, l := range got {
			assert.Regexp(t, labelPattern, l)
			assert.True(t, Valid(l))
			_, dup := seen[l]
			assert.False(t, dup, "duplicate label %s", l)
			seen[l] = struct{}{}
			_, taken := used[l]
			assert.False(t, taken, "label %s already used", l)
		}

		// 纯函数：重复调用结果一致
		assert.Equal(t, got, Allocate(used, n))
	}
}

func TestValid(t *testing.T) {
	for _, l := range []string{"A1", "B7", "C12", "D15"} {
		assert.True(t, Valid(l), l)
	}
	for _, l := range []string{"", "A", "E1", "A0", "A16", "A01", "a1", "B7x", "C123"} {
		assert.False(t, Valid(l), l)
	}
}

func TestNamespaceOrder(t *testing.T) {
	ns := Namespace()
	assert.Equal(t, "A1", ns[0])
	assert.Equal(t, "A15", ns[14])
	assert.Equal(t, "B1", ns[15])
	assert.Equal(t, "D15", ns[Capacity-1])
}
