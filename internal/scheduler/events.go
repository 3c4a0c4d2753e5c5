package scheduler

// Subscribe returns a channel receiving every status change and a func to
// stop the subscription. Slow subscribers miss intermediate updates.
func (s *Scheduler) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 8)

	s.subsMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subsMu.Unlock()

	cancel := func() {
		s.subsMu.Lock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
		s.subsMu.Unlock()
	}
	return ch, cancel
}

func (s *Scheduler) publish(st Status) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- st:
		default:
		}
	}
}
