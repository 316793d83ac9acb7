package originstats

import (
	"net/http"

	"github.com/pixveil/pixveil/mod/utils"
)

// HandleGetAllStats returns statistics for all origin namespaces
func (c *Collector) HandleGetAllStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	utils.SendJSONResponse(w, c.GetAllStats())
}

// HandleGetStats returns statistics for a specific namespace
func (c *Collector) HandleGetStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	namespace, err := utils.GetPara(r, "namespace")
	if err != nil {
		utils.SendErrorResponse(w, "namespace is required")
		return
	}

	stats := c.GetStats(namespace)
	if stats == nil {
		http.Error(w, "Namespace not found", http.StatusNotFound)
		return
	}

	utils.SendJSONResponse(w, stats)
}

// HandleResetStats resets statistics for a specific namespace
func (c *Collector) HandleResetStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	namespace, err := utils.GetPara(r, "namespace")
	if err != nil {
		utils.SendErrorResponse(w, "namespace is required")
		return
	}

	c.Reset(namespace)

	utils.SendOK(w)
}
