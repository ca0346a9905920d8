package memory

import "modmarket.org/internal/market"

// Seed helpers for tests and the -mem development mode. Each inserts a copy
// of the given row, assigning an id when none is set, and returns the stored
// value.

func (s *Store) SeedUser(u market.User) market.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == 0 {
		s.st.nextUser++
		u.ID = s.st.nextUser
	} else if u.ID > s.st.nextUser {
		s.st.nextUser = u.ID
	}
	c := u
	s.st.users[u.ID] = &c
	return u
}

func (s *Store) SeedServer(srv market.Server) market.Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	if srv.ID == 0 {
		s.st.nextServer++
		srv.ID = s.st.nextServer
	} else if srv.ID > s.st.nextServer {
		s.st.nextServer = srv.ID
	}
	c := srv
	s.st.servers[srv.ID] = &c
	return srv
}

func (s *Store) SeedMod(m market.Mod) market.Mod {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := m
	s.st.mods[m.ID] = &c
	return m
}

func (s *Store) SeedDeveloper(d market.Developer) market.Developer {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := d
	s.st.developers[d.Key] = &c
	return d
}

func (s *Store) SeedBundle(b market.Bundle) market.Bundle {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := b
	s.st.bundles[b.ID] = &c
	return b
}

func (s *Store) SeedEntitlement(p market.PurchaseEntitlement) market.PurchaseEntitlement {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		s.st.nextPurchase++
		p.ID = s.st.nextPurchase
	} else if p.ID > s.st.nextPurchase {
		s.st.nextPurchase = p.ID
	}
	c := p
	s.st.purchases[p.ID] = &c
	return p
}

func (s *Store) SeedSubscription(sub market.Subscription) market.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ID == 0 {
		s.st.nextSubscription++
		sub.ID = s.st.nextSubscription
	} else if sub.ID > s.st.nextSubscription {
		s.st.nextSubscription = sub.ID
	}
	c := sub
	s.st.subscriptions[sub.ID] = &c
	return sub
}
