package ot

type diffStep struct {
	kind Kind
	r    rune
}

// Diff builds the canonical operation turning a into b, using an edit
// distance DP over code points. Handy for producing operations from
// before/after snapshots of an editor buffer.
func Diff(a, b string) *Operation {
	s1, s2 := []rune(a), []rune(b)

	dp := make([][]int, len(s1)+1)
	dp[0] = make([]int, len(s2)+1)
	for j := 0; j <= len(s2); j++ {
		dp[0][j] = j
	}
	for i := 1; i <= len(s1); i++ {
		dp[i] = make([]int, len(s2)+1)
		dp[i][0] = i
		for j := 1; j <= len(s2); j++ {
			dp[i][j] = min(dp[i][j-1], dp[i-1][j]) + 1
			if s1[i-1] == s2[j-1] && dp[i-1][j-1] < dp[i][j] {
				dp[i][j] = dp[i-1][j-1]
			}
		}
	}

	// Walk back from the corner collecting steps in reverse.
	var steps []diffStep
	i, j := len(s1), len(s2)
	for i > 0 || j > 0 {
		switch {
		case i == 0:
			steps = append(steps, diffStep{KindInsert, s2[j-1]})
			j--
		case j == 0:
			steps = append(steps, diffStep{KindDelete, 0})
			i--
		case s1[i-1] == s2[j-1] && dp[i][j] == dp[i-1][j-1]:
			steps = append(steps, diffStep{KindRetain, 0})
			i--
			j--
		case dp[i][j] == dp[i][j-1]+1:
			steps = append(steps, diffStep{KindInsert, s2[j-1]})
			j--
		default:
			steps = append(steps, diffStep{KindDelete, 0})
			i--
		}
	}

	op := New()
	for k := len(steps) - 1; k >= 0; k-- {
		switch steps[k].kind {
		case KindRetain:
			op.Retain(1)
		case KindInsert:
			op.Insert(string(steps[k].r))
		case KindDelete:
			op.Delete(1)
		}
	}
	return op
}
