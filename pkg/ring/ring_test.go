package ring

import (
	"reflect"
	"testing"
)

func TestBuffer_PushWithinCapacity(t *testing.T) {
	b := New[int](4)
	b.Push(1)
	b.Push(2)
	if b.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", b.Len())
	}
	if got := b.Last(2); !reflect.DeepEqual(got, []int{1, 2}) {
		t.Errorf("Last(2) = %v, want [1 2]", got)
	}
}

func TestBuffer_PushEvictsOldest(t *testing.T) {
	b := New[int](3)
	for i := 1; i <= 5; i++ {
		b.Push(i)
	}
	if b.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", b.Len())
	}
	if got := b.Last(3); !reflect.DeepEqual(got, []int{3, 4, 5}) {
		t.Errorf("Last(3) = %v, want [3 4 5]", got)
	}
}

func TestBuffer_LastMoreThanAvailable(t *testing.T) {
	b := New[int](5)
	b.Push(7)
	if got := b.Last(10); !reflect.DeepEqual(got, []int{7}) {
		t.Errorf("Last(10) = %v, want [7]", got)
	}
}

func TestBuffer_LastZero(t *testing.T) {
	b := New[int](5)
	b.Push(1)
	if got := b.Last(0); len(got) != 0 {
		t.Errorf("Last(0) = %v, want empty", got)
	}
}

func TestBuffer_Clear(t *testing.T) {
	b := New[int](3)
	b.Push(1)
	b.Push(2)
	b.Clear()
	if b.Len() != 0 {
		t.Fatalf("Len() after Clear = %d, want 0", b.Len())
	}
	b.Push(9)
	if got := b.Last(1); !reflect.DeepEqual(got, []int{9}) {
		t.Errorf("Last(1) after Clear+Push = %v, want [9]", got)
	}
}

func TestNew_PanicsOnNonPositiveCapacity(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("New(0): want panic, got none")
		}
	}()
	New[int](0)
}
