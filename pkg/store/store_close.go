package store

// Close releases the database connection. The store cannot be reused.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.ivf = nil

	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return wrapError("close", err)
	}
	return nil
}
