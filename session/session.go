package session

import "sync"

// Listener is notified with the new user id, or ok=false after sign-out.
type Listener func(userID string, ok bool)

// Context holds the identity of the signed-in user, if any.
type Context struct {
	mu        sync.Mutex
	userID    string
	listeners []subscription
	nextID    int
}

type subscription struct {
	id int
	fn Listener
}

// New returns a signed-out Context.
func New() *Context {
	return &Context{}
}

// CurrentUserID returns the signed-in user id.
func (c *Context) CurrentUserID() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID, c.userID != ""
}

// OnChange registers fn and returns a func that removes it.
func (c *Context) OnChange(fn Listener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, subscription{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.listeners {
			if s.id == id {
				c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// SignIn makes userID the current user. An empty id signs out.
func (c *Context) SignIn(userID string) {
	c.set(userID)
}

// SignOut clears the current user.
func (c *Context) SignOut() {
	c.set("")
}

func (c *Context) set(userID string) {
	c.mu.Lock()
	if c.userID == userID {
		c.mu.Unlock()
		return
	}
	c.userID = userID
	fns := make([]Listener, len(c.listeners))
	for i, s := range c.listeners {
		fns[i] = s.fn
	}
	c.mu.Unlock()

	// listeners may call back into the Context
	for _, fn := range fns {
		fn(userID, userID != "")
	}
}
