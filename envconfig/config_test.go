package envconfig

import "testing"

func TestLoadConfig(t *testing.T) {
	t.Setenv("FLOWMOTION_DEBUG", "1")
	t.Setenv("FLOWMOTION_HOST", "0.0.0.0:8000")
	t.Setenv("FLOWMOTION_THREADS", "4")
	t.Setenv("FLOWMOTION_WEIGHTS", `"weights/model.safetensors"`)
	LoadConfig()

	if !Debug {
		t.Error("Debug not set")
	}
	if Host != "0.0.0.0:8000" {
		t.Errorf("Host = %q", Host)
	}
	if Threads != 4 {
		t.Errorf("Threads = %d", Threads)
	}
	if Weights != "weights/model.safetensors" {
		t.Errorf("Weights = %q, quotes should be stripped", Weights)
	}
}

func TestLoadConfigInvalidThreads(t *testing.T) {
	Threads = 0
	t.Setenv("FLOWMOTION_THREADS", "-2")
	LoadConfig()

	if Threads != 0 {
		t.Errorf("Threads = %d, invalid values should be ignored", Threads)
	}
}

func TestAsMapCoversEverySetting(t *testing.T) {
	m := AsMap()
	for _, name := range []string{"FLOWMOTION_DEBUG", "FLOWMOTION_HOST", "FLOWMOTION_THREADS", "FLOWMOTION_WEIGHTS"} {
		v, ok := m[name]
		if !ok {
			t.Errorf("missing %s", name)
			continue
		}
		if v.Name != name || v.Description == "" {
			t.Errorf("%s: incomplete entry %+v", name, v)
		}
	}
}
