package jit

import "kite/pkg/bytecode"

// analyze computes, for every instruction, whether its produced value
// has a live consumer. The pass first recomputes per-instruction stack
// heights (the same traversal the max-stack analysis runs per byte);
// if heights merge inconsistently or an underflow shows up, dead-store
// elimination is disabled and every result is reported live — the
// translation stays correct, it just elides nothing.
func analyze(insts []bytecode.Instr, ipToIndex []int, end int) []bool {
	n := len(insts)

	resultLive := make([]bool, n)
	for i := range resultLive {
		resultLive[i] = true
	}

	heightBefore := make([]int, n)
	heightAfter := make([]int, n)
	for i := range heightBefore {
		heightBefore[i] = -1
		heightAfter[i] = -1
	}

	ok := true

	// Forward height propagation over instruction indices.
	heightBefore[0] = 0
	queue := []int{0}
	for len(queue) > 0 && ok {
		i := queue[0]
		queue = queue[1:]

		h := heightBefore[i]
		if h < 0 {
			continue
		}
		h2 := h + insts[i].Effect()
		if h2 < 0 {
			ok = false
			break
		}

		addSucc := func(targetIP int) {
			if targetIP >= end {
				return
			}
			if targetIP < 0 || targetIP >= len(ipToIndex) || ipToIndex[targetIP] < 0 {
				ok = false
				return
			}
			t := ipToIndex[targetIP]
			if heightBefore[t] == -1 {
				heightBefore[t] = h2
				queue = append(queue, t)
			} else if heightBefore[t] != h2 {
				ok = false
			}
		}

		if !insts[i].IsEnd && insts[i].Fallthrough {
			addSucc(insts[i].Next)
		}
		if !insts[i].IsEnd && insts[i].HasJump {
			addSucc(insts[i].Target)
		}
	}

	if ok {
		for i := range insts {
			if heightBefore[i] < 0 {
				continue
			}
			heightAfter[i] = heightBefore[i] + insts[i].Effect()
			if heightAfter[i] < 0 {
				ok = false
				break
			}
		}
	}

	if !ok {
		return resultLive
	}

	// Build the instruction CFG. Edges require matching heights.
	preds := make([][]int, n)
	succs := make([][]int, n)
	addEdge := func(from, to int) {
		if heightBefore[from] < 0 || heightBefore[to] < 0 {
			return
		}
		if heightAfter[from] != heightBefore[to] {
			ok = false
			return
		}
		succs[from] = append(succs[from], to)
		preds[to] = append(preds[to], from)
	}
	for i := 0; i < n && ok; i++ {
		if heightBefore[i] < 0 || insts[i].IsEnd {
			continue
		}
		if insts[i].Fallthrough {
			if nip := insts[i].Next; nip < len(ipToIndex) && ipToIndex[nip] >= 0 {
				addEdge(i, ipToIndex[nip])
			}
		}
		if insts[i].HasJump {
			if tip := insts[i].Target; tip >= 0 && tip < len(ipToIndex) && ipToIndex[tip] >= 0 {
				addEdge(i, ipToIndex[tip])
			}
		}
	}
	if !ok {
		return resultLive
	}

	// Slot liveness to a fixed point.
	liveIn := make([][]bool, n)
	liveOut := make([][]bool, n)
	for i := range insts {
		if heightBefore[i] < 0 {
			continue
		}
		liveIn[i] = make([]bool, heightBefore[i])
		liveOut[i] = make([]bool, heightAfter[i])
	}

	worklist := make([]int, 0, n)
	for i := range insts {
		if heightBefore[i] >= 0 {
			worklist = append(worklist, i)
		}
	}

	equalBools := func(a, b []bool) bool {
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	}

	for len(worklist) > 0 && ok {
		i := worklist[0]
		worklist = worklist[1:]
		if heightBefore[i] < 0 {
			continue
		}

		newOut := make([]bool, heightAfter[i])
		for _, s := range succs[i] {
			for k := 0; k < len(newOut) && k < len(liveIn[s]); k++ {
				newOut[k] = newOut[k] || liveIn[s][k]
			}
		}
		liveOut[i] = newOut

		newIn := make([]bool, heightBefore[i])
		if insts[i].Op == bytecode.OpHalt {
			// The stack top at HALT is the program's return value.
			if heightBefore[i] > 0 {
				newIn[heightBefore[i]-1] = true
			}
		} else {
			consume := insts[i].Consume
			produce := insts[i].Produce
			base := heightBefore[i] - consume
			if base < 0 {
				ok = false
				break
			}
			for k := 0; k < base; k++ {
				newIn[k] = newOut[k]
			}
			live := false
			for k := 0; k < produce; k++ {
				if newOut[base+k] {
					live = true
					break
				}
			}
			if (insts[i].SideEffect || live) && insts[i].UsesInputs {
				for k := 0; k < consume; k++ {
					newIn[base+k] = true
				}
			}
		}

		if !equalBools(newIn, liveIn[i]) {
			liveIn[i] = newIn
			worklist = append(worklist, preds[i]...)
		}
	}
	if !ok {
		return resultLive
	}

	for i := range insts {
		if heightBefore[i] < 0 {
			// Unreachable under the analysis: leave it live.
			continue
		}
		if insts[i].Produce <= 0 {
			resultLive[i] = false
			continue
		}
		base := heightBefore[i] - insts[i].Consume
		if base < 0 {
			// Already caught above, but stay safe.
			continue
		}
		live := false
		for k := 0; k < insts[i].Produce; k++ {
			if liveOut[i][base+k] {
				live = true
				break
			}
		}
		resultLive[i] = live
	}

	return resultLive
}
