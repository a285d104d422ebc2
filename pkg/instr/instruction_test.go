package instr

import (
	"testing"
	"time"
)

type fakeFiber struct{ id uint64 }

func (f fakeFiber) FiberID() uint64 { return f.id }

func TestInstruction_ZeroValueIsYieldToAny(t *testing.T) {
	var ins Instruction
	if ins.Kind != KindYieldToAny {
		t.Fatalf("zero Instruction.Kind = %s, want YieldToAny", ins.Kind)
	}
}

func TestYieldForDuration_CarriesDuration(t *testing.T) {
	ins := YieldForDuration(5 * time.Second)
	if ins.Kind != KindYieldForDuration || ins.Duration != 5*time.Second {
		t.Fatalf("got %+v, want Kind=YieldForDuration Duration=5s", ins)
	}
}

func TestYieldUntilComplete_CarriesTarget(t *testing.T) {
	target := fakeFiber{id: 7}
	ins := YieldUntilComplete(target)
	if ins.Kind != KindYieldUntilComplete || ins.Target.FiberID() != 7 {
		t.Fatalf("got %+v, want Kind=YieldUntilComplete Target.FiberID()=7", ins)
	}
}

func TestResultSet_LatchesValue(t *testing.T) {
	ins := ResultSet(42)
	if ins.Kind != KindResultSet || ins.Result != 42 {
		t.Fatalf("got %+v, want Kind=ResultSet Result=42", ins)
	}
}

func TestStepOutcome_DoneAndYielded(t *testing.T) {
	if !Done().Done {
		t.Fatal("Done().Done = false")
	}
	y := Yielded(Stop())
	if y.Done {
		t.Fatal("Yielded(...).Done = true")
	}
	if v, ok := y.Value.(Instruction); !ok || v.Kind != KindStop {
		t.Fatalf("Yielded(Stop()).Value = %v, want Instruction{Kind: KindStop}", y.Value)
	}
}
