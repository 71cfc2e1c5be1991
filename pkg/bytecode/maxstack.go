package bytecode

// maxStackMargin is extra headroom added on top of the analysed peak so
// intrinsic call sequences never run off the end of a JIT operand stack.
const maxStackMargin = 8

// ComputeMaxStack runs a worklist traversal over fn's instructions,
// starting at Entry with height 0, and returns an upper bound on the
// operand-stack height plus a fixed margin. The traversal is tolerant:
// an undecodable instruction stops the walk and whatever bound was
// reached so far still holds for the paths visited.
func ComputeMaxStack(p *Program, fn *Function) uint32 {
	code := p.Code.Buf

	height := make([]int, len(code)+1)
	for i := range height {
		height[i] = -1
	}

	queue := []int{fn.Entry}
	height[fn.Entry] = 0
	best := 0

	for len(queue) > 0 {
		ip := queue[0]
		queue = queue[1:]

		if ip < fn.Entry || ip >= fn.End {
			continue
		}
		h := height[ip]
		if h < 0 {
			continue
		}

		in, err := Decode(code, ip)
		if err != nil {
			break
		}

		h2 := h + in.Effect()
		if h2 < 0 {
			h2 = 0
		}
		if h2 > best {
			best = h2
		}

		if !in.IsEnd && in.Fallthrough && in.Next < fn.End && height[in.Next] < h2 {
			height[in.Next] = h2
			queue = append(queue, in.Next)
		}
		if !in.IsEnd && in.HasJump && in.Target < len(code) && height[in.Target] < h2 {
			height[in.Target] = h2
			queue = append(queue, in.Target)
		}
	}

	return uint32(best + maxStackMargin)
}
