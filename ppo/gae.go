package ppo

// Advantages estimates per-transition advantages and value targets from a
// finished rollout. nextValue and nextDone describe the state the rollout
// stopped in and bootstrap the tail. With gae the estimator is the usual
// exponentially weighted one; without it, plain discounted returns minus the
// stored values.
func (b *Buffer) Advantages(gamma, lambda float64, gae bool, nextValue, nextDone []float64) (adv, ret []float64) {
	n := b.Steps * b.Envs
	adv = make([]float64, n)
	ret = make([]float64, n)

	if gae {
		lastGAE := make([]float64, b.Envs)
		for t := b.Steps - 1; t >= 0; t-- {
			for i := 0; i < b.Envs; i++ {
				var nonTerminal, nextV float64
				if t == b.Steps-1 {
					nonTerminal = 1 - nextDone[i]
					nextV = nextValue[i]
				} else {
					nonTerminal = 1 - b.Dones[(t+1)*b.Envs+i]
					nextV = b.Values[(t+1)*b.Envs+i]
				}
				k := t*b.Envs + i
				delta := b.Rewards[k] + gamma*nextV*nonTerminal - b.Values[k]
				lastGAE[i] = delta + gamma*lambda*nonTerminal*lastGAE[i]
				adv[k] = lastGAE[i]
			}
		}
		for k := 0; k < n; k++ {
			ret[k] = adv[k] + b.Values[k]
		}
		return adv, ret
	}

	for t := b.Steps - 1; t >= 0; t-- {
		for i := 0; i < b.Envs; i++ {
			var nonTerminal, nextRet float64
			if t == b.Steps-1 {
				nonTerminal = 1 - nextDone[i]
				nextRet = nextValue[i]
			} else {
				nonTerminal = 1 - b.Dones[(t+1)*b.Envs+i]
				nextRet = ret[(t+1)*b.Envs+i]
			}
			k := t*b.Envs + i
			ret[k] = b.Rewards[k] + gamma*nonTerminal*nextRet
		}
	}
	for k := 0; k < n; k++ {
		adv[k] = ret[k] - b.Values[k]
	}
	return adv, ret
}
