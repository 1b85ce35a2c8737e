package store

import "context"

// enqueueLocked queues a write of the current collection to the active
// backend. Consecutive writes to the same backend coalesce into the latest
// collection; the worker issues them strictly in order.
func (s *Store[T]) enqueueLocked() {
	if s.backend == nil || !s.synced {
		// Nothing to write to yet; items added now are carried over by
		// the first snapshot.
		return
	}
	recs := s.codec.SerializeAll(s.coll.Items())
	s.pending++
	if n := len(s.jobs); n > 0 && s.jobs[n-1].backend == s.backend && s.jobs[n-1].epoch == s.epoch {
		s.jobs[n-1].recs = recs
		s.jobs[n-1].count++
	} else {
		s.jobs = append(s.jobs, persistJob{backend: s.backend, epoch: s.epoch, recs: recs, count: 1})
	}
	if !s.running {
		s.running = true
		s.idle = make(chan struct{})
		go s.persistLoop()
	}
}

func (s *Store[T]) persistLoop() {
	for {
		s.mu.Lock()
		if len(s.jobs) == 0 {
			s.running = false
			close(s.idle)
			s.mu.Unlock()
			return
		}
		job := s.jobs[0]
		s.jobs = s.jobs[1:]
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), s.opts.persistTimeout)
		rev, err := job.backend.Persist(ctx, s.codec.Kind, job.recs)
		cancel()

		s.mu.Lock()
		if job.epoch == s.epoch {
			s.pending -= job.count
			if err != nil {
				s.stale = true
			} else {
				s.stale = false
				if rev > s.minRev {
					s.minRev = rev
				}
			}
		}
		s.mu.Unlock()

		if err != nil {
			s.opts.onError(err)
			continue
		}
		s.opts.logger.Debug("persisted", "kind", s.codec.Kind, "backend", job.backend.Name(), "items", len(job.recs), "rev", rev)
	}
}
