package imap

// GetListenerConnection returns the user's IDLE connection, locked; the caller
// unlocks it. A listener the server has logged out is replaced.
func (p *Pool) GetListenerConnection(creds Credentials) (*threadSafeClient, error) {
	p.mu.RLock()
	listener := p.listeners[creds.UserID]
	p.mu.RUnlock()

	if listener != nil {
		listener.Lock()
		if alive(listener.GetClient()) {
			return listener, nil
		}
		listener.Unlock()
		p.forgetListener(creds.UserID, listener)
	}

	c, err := dial(creds)
	if err != nil {
		return nil, err
	}
	fresh := newPooledClient(c, roleListener)

	p.mu.Lock()
	if existing, ok := p.listeners[creds.UserID]; ok {
		// Lost a race with another caller; use theirs.
		p.mu.Unlock()
		_ = c.Logout()
		existing.Lock()
		return existing, nil
	}
	p.listeners[creds.UserID] = fresh
	p.mu.Unlock()

	fresh.Lock()
	return fresh, nil
}

// RemoveListenerConnection removes a listener connection from the pool.
func (p *Pool) RemoveListenerConnection(userID string) {
	p.mu.Lock()
	listener := p.listeners[userID]
	delete(p.listeners, userID)
	p.mu.Unlock()

	if listener != nil {
		// The IDLE loop may still hold the lock; logging out unblocks it.
		_ = listener.GetClient().Logout()
	}
}

func (p *Pool) forgetListener(userID string, listener *threadSafeClient) {
	p.mu.Lock()
	if p.listeners[userID] == listener {
		delete(p.listeners, userID)
	}
	p.mu.Unlock()
	_ = listener.GetClient().Logout()
}
