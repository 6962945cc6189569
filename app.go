package toystory

import "github.com/NguyenMinh4869/toystory/cart"

// App is the application context constructed once at start-up and handed to
// every consumer, in place of process-wide singletons. Each test builds its
// own App on an in-memory store.
type App struct {
	Session *Engine
	Cart    *cart.Store
}

// Close stops the session engine. The cart holds no resources.
func (a *App) Close() {
	if a == nil {
		return
	}
	a.Session.Close()
}
